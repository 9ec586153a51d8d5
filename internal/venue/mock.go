package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

// MockOptions configure a deterministic offline venue.
type MockOptions struct {
	Name    string
	Symbols []string
	// Mid is the mid price shared by every symbol.
	Mid decimal.Decimal
	// Shift moves the whole book up or down by an absolute amount.
	Shift decimal.Decimal
	// Tick is the distance between levels and from mid to the first level.
	Tick   decimal.Decimal
	Levels int
	Size   decimal.Decimal
	Fees   *market.FeeSchedule
	// Latency delays every fetch; honouring ctx.
	Latency time.Duration
	// QuoteVolume is reported for every listed symbol.
	QuoteVolume decimal.Decimal
}

// Mock serves synthetic books so the engine runs without network access.
// Books for the same inputs are identical across calls.
type Mock struct {
	opts    MockOptions
	listing market.Listing
}

// NewMock constructs a mock venue.
func NewMock(opts MockOptions) (*Mock, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("mock venue name required")
	}
	if !opts.Mid.IsPositive() {
		opts.Mid = decimal.NewFromInt(10000)
	}
	if !opts.Tick.IsPositive() {
		opts.Tick = decimal.NewFromInt(10)
	}
	if opts.Levels <= 0 {
		opts.Levels = 2
	}
	if !opts.Size.IsPositive() {
		opts.Size = decimal.NewFromInt(5)
	}
	listing := make(market.Listing, len(opts.Symbols))
	for _, s := range opts.Symbols {
		sym, err := market.ParseSymbol(s)
		if err != nil {
			return nil, err
		}
		listing.Add(market.Instrument{Symbol: sym, QuoteVolume: opts.QuoteVolume})
	}
	return &Mock{opts: opts, listing: listing}, nil
}

func (m *Mock) Name() string { return m.opts.Name }

func (m *Mock) FetchOrderBook(ctx context.Context, symbol string, depth int) (market.OrderBook, error) {
	if m.opts.Latency > 0 {
		timer := time.NewTimer(m.opts.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return market.OrderBook{}, newError(m.opts.Name, Classify(ctx.Err()), ctx.Err())
		case <-timer.C:
		}
	}
	sym, err := parseSymbol(m.opts.Name, symbol)
	if err != nil {
		return market.OrderBook{}, err
	}
	if !m.listing.Has(sym.String()) {
		return market.OrderBook{}, newError(m.opts.Name, KindNotListed, fmt.Errorf("%s not listed", sym))
	}

	mid := m.opts.Mid.Add(m.opts.Shift)
	levels := m.opts.Levels
	if depth > 0 {
		levels = min(levels, depth)
	}
	bids := make([]market.Level, 0, levels)
	asks := make([]market.Level, 0, levels)
	for i := 1; i <= levels; i++ {
		step := m.opts.Tick.Mul(decimal.NewFromInt(int64(i)))
		size := m.opts.Size.Mul(decimal.NewFromInt(int64(i)))
		if bid := mid.Sub(step); bid.IsPositive() {
			bids = append(bids, market.Level{Price: bid, Size: size})
		}
		asks = append(asks, market.Level{Price: mid.Add(step), Size: size})
	}
	book, err := market.NewOrderBook(m.opts.Name, sym.String(), bids, asks, time.Now(), m.opts.Fees)
	if err != nil {
		return market.OrderBook{}, newError(m.opts.Name, KindUnknown, err)
	}
	return book, nil
}

func (m *Mock) ListSymbols(context.Context) (market.Listing, error) {
	out := make(market.Listing, len(m.listing))
	for k, v := range m.listing {
		out[k] = v
	}
	return out, nil
}

var _ Client = (*Mock)(nil)
