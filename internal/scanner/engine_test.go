package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-scanner/internal/market"
	"spread-scanner/internal/metrics"
	"spread-scanner/internal/spread"
	"spread-scanner/internal/universe"
	"spread-scanner/internal/venue"
)

type staticListings struct {
	snap universe.Snapshot
}

func (s staticListings) Snapshot() universe.Snapshot   { return s.snap }
func (s staticListings) Due(time.Time) bool            { return false }
func (s staticListings) Refresh(context.Context) error { return nil }

func listingsFor(venues []string, symbols ...string) staticListings {
	out := make(map[string]market.Listing, len(venues))
	for _, v := range venues {
		l := make(market.Listing)
		for _, s := range symbols {
			l.Add(market.Instrument{Symbol: market.MustSymbol(s)})
		}
		out[v] = l
	}
	return staticListings{snap: universe.Snapshot{Listings: out}}
}

// fakeClient serves a fixed book, optionally hanging or failing per symbol.
type fakeClient struct {
	name     string
	hang     map[string]bool
	fail     error
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	ask      string
	bid      string
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) FetchOrderBook(ctx context.Context, symbol string, _ int) (market.OrderBook, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.hang[symbol] {
		// ignores ctx entirely
		select {}
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return market.OrderBook{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.fail != nil {
		return market.OrderBook{}, f.fail
	}
	ask, bid := f.ask, f.bid
	if ask == "" {
		ask, bid = "100", "99"
	}
	return market.NewOrderBook(f.name, symbol,
		[]market.Level{{Price: decimal.RequireFromString(bid), Size: decimal.NewFromInt(100)}},
		[]market.Level{{Price: decimal.RequireFromString(ask), Size: decimal.NewFromInt(100)}},
		time.Now(), nil)
}

func (f *fakeClient) ListSymbols(context.Context) (market.Listing, error) {
	return nil, errors.New("not used")
}

func baseConfig(venues ...string) Config {
	return Config{
		Universe: universe.Request{
			Quotes: []string{"USDT"},
			Venues: venues,
		},
		Size:             spread.Request{Size: decimal.NewFromInt(1), Unit: spread.SizeBase},
		Depth:            5,
		Workers:          4,
		ItemTimeout:      200 * time.Millisecond,
		MinDepthFraction: decimal.RequireFromString("0.5"),
		MinNetSpreadPct:  decimal.RequireFromString("0.5"),
		TopN:             10,
		PerSymbol:        true,
		Cost: spread.CostModel{
			TakerFee:  decimal.RequireFromString("0.001"),
			Transfers: []spread.NetworkFee{{Venue: spread.Wildcard, Asset: spread.Wildcard, Network: "TRC20"}},
		},
	}
}

func clientsOf(cs ...venue.Client) map[string]venue.Client {
	out := make(map[string]venue.Client, len(cs))
	for _, c := range cs {
		out[c.Name()] = c
	}
	return out
}

func TestRunOneCycleRanksOpportunities(t *testing.T) {
	cheap := &fakeClient{name: "cheap", ask: "100", bid: "99"}
	rich := &fakeClient{name: "rich", ask: "103", bid: "102"}
	fair := &fakeClient{name: "fair", ask: "100.5", bid: "100.4"}
	symbols := []string{"BTC/USDT", "ETH/USDT"}
	eng := NewEngine(clientsOf(cheap, rich, fair), listingsFor([]string{"cheap", "rich", "fair"}, symbols...), Options{HistorySize: 2}, zerolog.Nop())

	res, err := eng.RunOneCycle(context.Background(), baseConfig("cheap", "rich", "fair"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 6, res.Stats.Attempted)
	assert.Equal(t, 6, res.Stats.Succeeded)
	assert.Equal(t, 12, res.Stats.Evaluated)
	require.Len(t, res.Opportunities, 2)
	for _, opp := range res.Opportunities {
		assert.Equal(t, "cheap", opp.BuyVenue)
		assert.Equal(t, "rich", opp.SellVenue)
	}
	assert.Equal(t, "BTC/USDT", res.Opportunities[0].Symbol, "ties are ordered by symbol")

	latest, ok := eng.History().Latest()
	require.True(t, ok)
	assert.Equal(t, res.ID, latest.ID)
}

func TestHungFetchDoesNotStallCycle(t *testing.T) {
	hung := &fakeClient{name: "hung", hang: map[string]bool{"BTC/USDT": true}}
	fast := &fakeClient{name: "fast"}
	other := &fakeClient{name: "other"}
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT"}
	eng := NewEngine(clientsOf(hung, fast, other), listingsFor([]string{"hung", "fast", "other"}, symbols...), Options{}, zerolog.Nop())

	cfg := baseConfig("hung", "fast", "other")
	cfg.Workers = 2
	cfg.ItemTimeout = 50 * time.Millisecond

	start := time.Now()
	res, err := eng.RunOneCycle(context.Background(), cfg)
	require.NoError(t, err)
	// 12 items over 2 workers, each bounded by the item timeout
	bound := time.Duration(12/2) * cfg.ItemTimeout
	assert.Less(t, time.Since(start), bound+time.Second)

	assert.Equal(t, 12, res.Stats.Attempted)
	assert.Equal(t, 11, res.Stats.Succeeded)
	assert.Equal(t, 1, res.Stats.Failures[venue.KindTimeout])
}

func TestPoolBoundsConcurrency(t *testing.T) {
	slow := &fakeClient{name: "slow", delay: 20 * time.Millisecond}
	items := make([]universe.WorkItem, 20)
	for i := range items {
		items[i] = universe.WorkItem{Venue: "slow", Symbol: fmt.Sprintf("T%d/USDT", i), Timeout: time.Second}
	}
	reg := metrics.NewRegistry()
	pool := NewPool(clientsOf(slow), 3, 5, reg, zerolog.Nop())
	got := pool.Run(context.Background(), items)

	assert.Len(t, got, 20)
	assert.LessOrEqual(t, slow.peak.Load(), int32(3))
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `spreadscan_fetch_total{outcome="ok",venue="slow"} 20`)
}

func TestFetchFailuresAreClassified(t *testing.T) {
	limited := &fakeClient{name: "limited", fail: &venue.Error{Venue: "limited", Kind: venue.KindRateLimited, Err: errors.New("429")}}
	denied := &fakeClient{name: "denied", fail: &venue.Error{Venue: "denied", Kind: venue.KindAuth, Err: errors.New("403")}}
	ok1 := &fakeClient{name: "ok1", ask: "100", bid: "99"}
	ok2 := &fakeClient{name: "ok2", ask: "102", bid: "101.5"}
	names := []string{"limited", "denied", "ok1", "ok2"}
	eng := NewEngine(clientsOf(limited, denied, ok1, ok2), listingsFor(names, "BTC/USDT"), Options{}, zerolog.Nop())

	res, err := eng.RunOneCycle(context.Background(), baseConfig(names...))
	require.NoError(t, err, "venue failures must not abort the cycle")
	assert.Equal(t, 2, res.Stats.Failed)
	assert.Equal(t, 1, res.Stats.Failures[venue.KindRateLimited])
	assert.Equal(t, 1, res.Stats.Failures[venue.KindAuth])
	require.Len(t, res.Opportunities, 1)
	assert.Equal(t, "ok1", res.Opportunities[0].BuyVenue)
}

func TestExcludingEveryVenueFailsBeforeFetching(t *testing.T) {
	a := &fakeClient{name: "a"}
	b := &fakeClient{name: "b"}
	eng := NewEngine(clientsOf(a, b), listingsFor([]string{"a", "b"}, "BTC/USDT"), Options{}, zerolog.Nop())

	cfg := baseConfig("a", "b")
	cfg.Universe.Exclude = []string{"a", "b"}
	_, err := eng.RunOneCycle(context.Background(), cfg)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	var empty *universe.EmptyUniverseError
	assert.ErrorAs(t, err, &empty)
	assert.Zero(t, a.calls.Load()+b.calls.Load(), "no fetch may be attempted")
	_, ok := eng.History().Latest()
	assert.False(t, ok)
}

func TestInvalidConfigIsReported(t *testing.T) {
	eng := NewEngine(nil, listingsFor(nil), Options{}, zerolog.Nop())
	cfg := baseConfig("a")
	cfg.Workers = 0
	cfg.Size.Unit = "lots"
	_, err := eng.RunOneCycle(context.Background(), cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "size unit")

	_, err = eng.RunOneCycle(context.Background(), baseConfig("ghost"))
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "ghost")
}

func TestZeroMinDepthFractionIsRejected(t *testing.T) {
	eng := NewEngine(nil, listingsFor(nil), Options{}, zerolog.Nop())
	cfg := baseConfig("a")
	cfg.MinDepthFraction = decimal.Zero
	_, err := eng.RunOneCycle(context.Background(), cfg)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "min depth fraction")

	cfg.MinDepthFraction = decimal.RequireFromString("1.5")
	_, err = eng.RunOneCycle(context.Background(), cfg)
	require.ErrorAs(t, err, &cfgErr)
}

func TestCancelledCycleIsDiscarded(t *testing.T) {
	slow := &fakeClient{name: "slow", delay: time.Second}
	fast := &fakeClient{name: "fast"}
	eng := NewEngine(clientsOf(slow, fast), listingsFor([]string{"slow", "fast"}, "BTC/USDT", "ETH/USDT"), Options{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	cfg := baseConfig("slow", "fast")
	cfg.ItemTimeout = 5 * time.Second
	start := time.Now()
	_, err := eng.RunOneCycle(ctx, cfg)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "in-flight fetches must honour cancellation")
	_, ok := eng.History().Latest()
	assert.False(t, ok)
}

func TestBreakerSkipsFailingVenue(t *testing.T) {
	broken := &fakeClient{name: "broken", fail: errors.New("connection reset")}
	a := &fakeClient{name: "a"}
	b := &fakeClient{name: "b"}
	names := []string{"a", "b", "broken"}
	eng := NewEngine(clientsOf(broken, a, b), listingsFor(names, "BTC/USDT", "ETH/USDT"), Options{
		BreakerThreshold: 2,
		BreakerCooldown:  2,
	}, zerolog.Nop())
	cfg := baseConfig(names...)

	res, err := eng.RunOneCycle(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Failed)

	for range 2 {
		res, err = eng.RunOneCycle(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, []string{"broken"}, res.SkippedVenues)
		assert.Equal(t, 2, res.Stats.Skipped)
	}
	assert.Equal(t, int32(2), broken.calls.Load())

	res, err = eng.RunOneCycle(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, res.SkippedVenues)
	assert.Equal(t, int32(4), broken.calls.Load())
}

func TestRunContinuousDeliversCycles(t *testing.T) {
	a := &fakeClient{name: "a", ask: "100", bid: "99"}
	b := &fakeClient{name: "b", ask: "103", bid: "102"}
	eng := NewEngine(clientsOf(a, b), listingsFor([]string{"a", "b"}, "BTC/USDT"), Options{HistorySize: 3}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var ids []string
	err := eng.RunContinuous(ctx, baseConfig("a", "b"), 10*time.Millisecond, func(_ context.Context, res CycleResult) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, res.ID)
		if len(ids) == 4 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, ids, 4)
	assert.Len(t, eng.History().All(), 3)
	assert.NotEqual(t, ids[0], ids[1])
}
