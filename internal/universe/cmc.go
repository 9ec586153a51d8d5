package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"spread-scanner/internal/market"
)

// CMCOptions configure the CoinMarketCap ranking source.
type CMCOptions struct {
	APIKey   string
	BaseURL  string
	Convert  string
	Timeout  time.Duration
	MaxTries uint
}

// CMC ranks bases by CoinMarketCap listings, skipping stablecoins. Without an
// API key, or after retries are exhausted, it falls back to the static list.
type CMC struct {
	opts     CMCOptions
	client   *http.Client
	fallback PresetSource
	logger   zerolog.Logger
}

// NewCMC constructs a CoinMarketCap source.
func NewCMC(opts CMCOptions, logger zerolog.Logger) *CMC {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://pro-api.coinmarketcap.com"
	}
	if opts.Convert == "" {
		opts.Convert = "USD"
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	return &CMC{
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout},
		fallback: StaticPreset{},
		logger:   logger.With().Str("component", "cmc").Logger(),
	}
}

func (c *CMC) TopBases(ctx context.Context, n int) ([]string, error) {
	if strings.TrimSpace(c.opts.APIKey) == "" {
		return c.fallback.TopBases(ctx, n)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("backoff", wait).Msg("cmc listings retry")
	}
	bases, err := backoff.Retry(ctx, func() ([]string, error) {
		return c.fetch(ctx, n)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.opts.MaxTries),
		backoff.WithNotify(notify))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error().Err(err).Msg("cmc listings failed, using static ranking")
		return c.fallback.TopBases(ctx, n)
	}
	return bases, nil
}

func (c *CMC) fetch(ctx context.Context, n int) ([]string, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(n))
	query.Set("convert", c.opts.Convert)
	endpoint := c.opts.BaseURL + "/v1/cryptocurrency/listings/latest?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.opts.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(fmt.Errorf("cmc api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("cmc api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data []struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode cmc listings: %w", err))
	}
	bases := make([]string, 0, len(payload.Data))
	for _, item := range payload.Data {
		sym := strings.ToUpper(strings.TrimSpace(item.Symbol))
		if sym == "" || market.IsStable(sym) {
			continue
		}
		bases = append(bases, sym)
		if len(bases) == n {
			break
		}
	}
	return bases, nil
}

var _ PresetSource = (*CMC)(nil)
