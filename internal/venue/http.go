package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"spread-scanner/internal/market"
)

const maxErrorBody = 512

// Options parameterise an HTTP venue client. Zero values fall back to
// per-venue defaults.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
	UserAgent string
	// Fees is the schedule attached to every snapshot; nil leaves fee
	// resolution to the cost model.
	Fees *market.FeeSchedule
}

// restClient is the shared HTTP plumbing behind every REST venue.
type restClient struct {
	name      string
	baseURL   string
	userAgent string
	fees      *market.FeeSchedule
	client    *http.Client
	limiter   *rate.Limiter
	logger    zerolog.Logger
	// notListed recognises venue-specific "unknown symbol" error bodies.
	notListed func(status int, payload []byte) bool
}

func newRESTClient(name, defaultURL string, defaultRate float64, opts Options, logger zerolog.Logger) restClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultURL
	}
	rps := opts.RateLimit
	if rps <= 0 {
		rps = defaultRate
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "spreadscan/1.0"
	}
	return restClient{
		name:      name,
		baseURL:   baseURL,
		userAgent: ua,
		fees:      opts.Fees,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		logger:    logger.With().Str("component", "venue").Str("venue", name).Logger(),
	}
}

func (c *restClient) Name() string { return c.name }

func (c *restClient) rename(name string) {
	c.name = name
	c.logger = c.logger.With().Str("venue", name).Logger()
}

func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *restClient) postJSON(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *restClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.transportError(ctxErr)
		}
		// the limiter refuses waits that cannot finish before the deadline
		return newError(c.name, KindRateLimited, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return newError(c.name, KindUnknown, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return newError(c.name, KindUnknown, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return newError(c.name, KindUnknown, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *restClient) transportError(err error) error {
	kind := Classify(err)
	if errors.Is(err, context.Canceled) {
		kind = KindUnknown
	}
	return newError(c.name, kind, err)
}

func (c *restClient) statusError(status int, payload []byte) error {
	text := strings.TrimSpace(string(payload))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	err := fmt.Errorf("http %d: %s", status, text)
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return newError(c.name, KindRateLimited, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(c.name, KindAuth, err)
	case status == http.StatusNotFound:
		return newError(c.name, KindNotListed, err)
	case c.notListed != nil && c.notListed(status, payload):
		return newError(c.name, KindNotListed, err)
	default:
		return newError(c.name, KindUnknown, err)
	}
}

// snapshot validates parsed levels into an order book capped at depth.
func (c *restClient) snapshot(symbol string, rawBids, rawAsks [][]string, ts time.Time, depth int) (market.OrderBook, error) {
	bids, err := market.ParseLevels(rawBids)
	if err != nil {
		return market.OrderBook{}, newError(c.name, KindUnknown, fmt.Errorf("bids: %w", err))
	}
	asks, err := market.ParseLevels(rawAsks)
	if err != nil {
		return market.OrderBook{}, newError(c.name, KindUnknown, fmt.Errorf("asks: %w", err))
	}
	if depth > 0 {
		bids = bids[:min(depth, len(bids))]
		asks = asks[:min(depth, len(asks))]
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	book, err := market.NewOrderBook(c.name, symbol, bids, asks, ts, c.fees)
	if err != nil {
		return market.OrderBook{}, newError(c.name, KindUnknown, err)
	}
	return book, nil
}

// applyVolumes sets QuoteVolume on listed instruments. volumes is keyed by
// the venue's native instrument id as produced by native.
func applyVolumes(listing market.Listing, volumes map[string]decimal.Decimal, native func(market.Symbol) string) {
	for key, inst := range listing {
		if v, ok := volumes[native(inst.Symbol)]; ok {
			inst.QuoteVolume = v
			listing[key] = inst
		}
	}
}

func concatID(s market.Symbol) string { return s.Base + s.Quote }

func parseSymbol(venue, symbol string) (market.Symbol, error) {
	sym, err := market.ParseSymbol(symbol)
	if err != nil {
		return market.Symbol{}, newError(venue, KindNotListed, err)
	}
	return sym, nil
}

func decimalOrZero(s string) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return v
}
