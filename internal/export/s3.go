package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"spread-scanner/internal/scanner"
)

// S3Options configure an S3 or S3 compatible sink.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	Format    Format
}

// ObjectPutter is the subset of the S3 client the sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads one object per cycle under prefix/YYYY/MM/DD/<time>_<id>.<ext>.
type S3Sink struct {
	client ObjectPutter
	bucket string
	prefix string
	format Format
	logger zerolog.Logger
}

// NewS3Sink loads AWS configuration and builds the sink. Static credentials
// are used when both keys are set, otherwise the default chain applies.
func NewS3Sink(ctx context.Context, opts S3Options, logger zerolog.Logger) (*S3Sink, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("export.s3.bucket is required")
	}
	loaders := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return NewS3SinkWithClient(client, opts, logger), nil
}

// NewS3SinkWithClient wires an existing client.
func NewS3SinkWithClient(client ObjectPutter, opts S3Options, logger zerolog.Logger) *S3Sink {
	format := opts.Format
	if format == "" {
		format = FormatCSV
	}
	return &S3Sink{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		format: format,
		logger: logger.With().Str("component", "export_s3").Logger(),
	}
}

// Key returns the object key for a cycle.
func (s *S3Sink) Key(res scanner.CycleResult) string {
	ts := res.StartedAt.UTC()
	name := fmt.Sprintf("%s_%s.%s", ts.Format("150405.000"), res.ID, s.format)
	return path.Join(s.prefix, ts.Format("2006/01/02"), name)
}

// Export uploads the encoded cycle.
func (s *S3Sink) Export(ctx context.Context, res scanner.CycleResult) error {
	var buf bytes.Buffer
	if err := Write(&buf, s.format, res); err != nil {
		return err
	}
	contentType := "text/csv"
	if s.format == FormatJSON {
		contentType = "application/json"
	}
	key := s.Key(res)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(buf.Len())),
	})
	if err != nil {
		return fmt.Errorf("put s3 object %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int("bytes", buf.Len()).Msg("cycle uploaded")
	return nil
}

var _ Exporter = (*S3Sink)(nil)
