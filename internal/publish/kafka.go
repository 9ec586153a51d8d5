// Package publish streams ranked opportunities to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"spread-scanner/internal/export"
	"spread-scanner/internal/scanner"
)

// MessageWriter is the subset of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options configure the Kafka writer.
type Options struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Event is the value of one published message.
type Event struct {
	CycleID string `json:"cycle_id"`
	Rank    int    `json:"rank"`
	export.Record
}

// KafkaPublisher emits one message per ranked opportunity, keyed by symbol
// so a symbol's updates stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher builds a publisher backed by a kafka.Writer.
func NewKafkaPublisher(opts Options, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers is required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka.topic is required")
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           opts.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	return NewWithWriter(w, opts.Topic, logger), nil
}

// NewWithWriter wires an existing writer.
func NewWithWriter(w MessageWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "kafka_publisher").Str("topic", topic).Logger(),
	}
}

// Export publishes the cycle's ranked opportunities in rank order.
func (p *KafkaPublisher) Export(ctx context.Context, res scanner.CycleResult) error {
	if len(res.Opportunities) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(res.Opportunities))
	for i, r := range res.Opportunities {
		value, err := json.Marshal(Event{CycleID: res.ID, Rank: i + 1, Record: export.NewRecord(r)})
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Symbol),
			Value: value,
			Time:  res.FinishedAt,
			Headers: []kafka.Header{
				{Key: "cycle_id", Value: []byte(res.ID)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d opportunities: %w", len(msgs), err)
	}
	p.logger.Debug().Str("cycle", res.ID).Int("messages", len(msgs)).Msg("opportunities published")
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ export.Exporter = (*KafkaPublisher)(nil)
