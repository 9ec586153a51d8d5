// Package scanner runs scan cycles: resolve the universe, fetch every book
// through a bounded worker pool, compute pairwise spreads and rank them.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spread-scanner/internal/market"
	"spread-scanner/internal/metrics"
	"spread-scanner/internal/ranker"
	"spread-scanner/internal/scheduler"
	"spread-scanner/internal/spread"
	"spread-scanner/internal/universe"
	"spread-scanner/internal/venue"
)

// ListingSource is the listed-symbol cache consulted between cycles.
type ListingSource interface {
	Snapshot() universe.Snapshot
	Due(now time.Time) bool
	Refresh(ctx context.Context) error
}

// CostAdjuster refreshes live transfer costs between cycles.
type CostAdjuster interface {
	Adjust(ctx context.Context, base spread.CostModel) spread.CostModel
}

// CycleHandler receives every completed cycle.
type CycleHandler func(ctx context.Context, res CycleResult) error

// Stats are the counters of one cycle.
type Stats struct {
	Symbols   int
	Attempted int
	Succeeded int
	Failed    int
	// Skipped counts items not attempted because their venue was cooling down.
	Skipped   int
	Failures  map[venue.Kind]int
	Evaluated int
	// Outcomes counts spread results by status, or by reason when not computable.
	Outcomes map[string]int
}

// CycleResult is the outcome of one scan cycle. Opportunities are ranked.
type CycleResult struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Venues        []string
	SkippedVenues []string
	Opportunities []spread.Result
	Stats         Stats
}

// Options configure an Engine.
type Options struct {
	HistorySize      int
	BreakerThreshold int
	BreakerCooldown  int
	Metrics          *metrics.Registry
	Adjuster         CostAdjuster
	// AlignToInterval and StartupDelay shape RunContinuous scheduling.
	AlignToInterval bool
	StartupDelay    time.Duration
}

// Engine owns the state that outlives a cycle: breaker and history.
type Engine struct {
	clients  map[string]venue.Client
	listings ListingSource
	breaker  *Breaker
	history  *History
	metrics  *metrics.Registry
	adjuster CostAdjuster
	schedule scheduler.Options
	logger   zerolog.Logger
}

// NewEngine wires an engine over clients keyed by venue name.
func NewEngine(clients map[string]venue.Client, listings ListingSource, opts Options, logger zerolog.Logger) *Engine {
	logger = logger.With().Str("component", "scanner").Logger()
	return &Engine{
		clients:  clients,
		listings: listings,
		breaker:  NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown, logger),
		history:  NewHistory(opts.HistorySize),
		metrics:  opts.Metrics,
		adjuster: opts.Adjuster,
		schedule: scheduler.Options{
			AlignToStart:   opts.AlignToInterval,
			RunImmediately: !opts.AlignToInterval,
			StartupDelay:   opts.StartupDelay,
		},
		logger: logger,
	}
}

// History exposes the retained cycles.
func (e *Engine) History() *History { return e.history }

// RunOneCycle executes a single cycle against the current listing snapshot.
// Only configuration problems (*ConfigError) and cancellation are returned
// as errors; fetch and computation failures are counted in the result. A
// cancelled cycle is discarded.
func (e *Engine) RunOneCycle(ctx context.Context, cfg Config) (CycleResult, error) {
	started := time.Now().UTC()
	if err := cfg.Validate(); err != nil {
		e.countConfigError()
		return CycleResult{}, err
	}
	if unknown := e.unknownVenues(cfg.Universe.Venues); len(unknown) > 0 {
		e.countConfigError()
		return CycleResult{}, &ConfigError{Err: fmt.Errorf("unknown venues: %s", strings.Join(unknown, ","))}
	}

	snap := e.listings.Snapshot()
	req := cfg.Universe
	req.ItemTimeout = cfg.ItemTimeout
	plan, err := universe.Resolve(req, snap.Ranked, snap.Listings)
	if err != nil {
		e.countConfigError()
		return CycleResult{}, &ConfigError{Err: err}
	}

	res := CycleResult{
		ID:        uuid.NewString(),
		StartedAt: started,
		Venues:    plan.Venues,
		Stats: Stats{
			Symbols:  len(plan.Symbols),
			Failures: make(map[venue.Kind]int),
			Outcomes: make(map[string]int),
		},
	}

	skipped := make(map[string]bool)
	for _, v := range plan.Venues {
		if e.breaker.Skip(v) {
			skipped[v] = true
			res.SkippedVenues = append(res.SkippedVenues, v)
		}
	}
	items := make([]universe.WorkItem, 0, len(plan.Items))
	for _, item := range plan.Items {
		if skipped[item.Venue] {
			res.Stats.Skipped++
			continue
		}
		items = append(items, item)
	}

	pool := NewPool(e.clients, cfg.Workers, cfg.Depth, e.metrics, e.logger)
	fetched := pool.Run(ctx, items)
	if err := ctx.Err(); err != nil {
		return CycleResult{}, err
	}

	books := make(map[string][]market.OrderBook)
	perVenue := make(map[string][2]int)
	for _, f := range fetched {
		res.Stats.Attempted++
		counts := perVenue[f.Item.Venue]
		if f.OK() {
			res.Stats.Succeeded++
			counts[0]++
			books[f.Item.Symbol] = append(books[f.Item.Symbol], f.Book)
		} else {
			res.Stats.Failed++
			res.Stats.Failures[f.Kind]++
			// symbol-specific, says nothing about venue health
			if f.Kind != venue.KindNotListed {
				counts[1]++
			}
		}
		perVenue[f.Item.Venue] = counts
	}
	for v, counts := range perVenue {
		e.breaker.Record(v, counts[0], counts[1])
	}

	cost := cfg.Cost
	if cfg.EnforceLots {
		cost = cost.WithLots(listingLots(snap.Listings, plan))
	}
	calc := spread.NewCalculator(spread.Options{
		MinDepthFraction: cfg.MinDepthFraction,
		MinNetSpreadPct:  cfg.MinNetSpreadPct,
	})
	candidates := evaluate(calc, books, plan.Symbols, cfg.Size, cost)
	for _, c := range candidates {
		res.Stats.Evaluated++
		key := string(c.Status)
		if c.Status == spread.StatusNotComputable {
			key = string(c.Reason)
		}
		res.Stats.Outcomes[key]++
	}

	res.Opportunities = ranker.Rank(candidates, ranker.Options{
		MinNetSpreadPct: cfg.MinNetSpreadPct,
		TopN:            cfg.TopN,
		PerSymbol:       cfg.PerSymbol,
	})
	res.FinishedAt = time.Now().UTC()
	e.history.Add(res)
	e.observe(res)

	e.logger.Info().
		Str("cycle", res.ID).
		Int("symbols", res.Stats.Symbols).
		Int("attempted", res.Stats.Attempted).
		Int("failed", res.Stats.Failed).
		Int("skipped", res.Stats.Skipped).
		Int("evaluated", res.Stats.Evaluated).
		Int("opportunities", len(res.Opportunities)).
		Dur("elapsed", res.FinishedAt.Sub(res.StartedAt)).
		Msg("cycle complete")
	return res, nil
}

// RunContinuous runs cycles every interval until ctx is cancelled. The
// listing cache and live costs are refreshed between cycles, never during
// one. Configuration errors fail their cycle and the loop continues.
func (e *Engine) RunContinuous(ctx context.Context, cfg Config, interval time.Duration, onCycle CycleHandler) error {
	if interval <= 0 {
		return &ConfigError{Err: fmt.Errorf("scan interval must be positive, got %s", interval)}
	}
	schedOpts := e.schedule
	schedOpts.Interval = interval
	sched := scheduler.New(schedOpts, e.logger)
	base := cfg.Cost
	return sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		if e.listings.Due(time.Now()) {
			if err := e.listings.Refresh(ctx); err != nil {
				e.logger.Error().Err(err).Msg("listing refresh failed")
			}
		}
		cycleCfg := cfg
		if e.adjuster != nil {
			cycleCfg.Cost = e.adjuster.Adjust(ctx, base)
		}
		res, err := e.RunOneCycle(ctx, cycleCfg)
		if err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				e.logger.Error().Err(err).Msg("cycle rejected")
				return nil
			}
			return err
		}
		if onCycle != nil {
			return onCycle(ctx, res)
		}
		return nil
	})
}

func (e *Engine) unknownVenues(venues []string) []string {
	var unknown []string
	for _, v := range venues {
		if _, ok := e.clients[v]; !ok {
			unknown = append(unknown, v)
		}
	}
	return unknown
}

// evaluate computes every ordered venue pair for each symbol.
func evaluate(calc *spread.Calculator, books map[string][]market.OrderBook, symbols []string, size spread.Request, cost spread.CostModel) []spread.Result {
	var out []spread.Result
	for _, symbol := range symbols {
		group := books[symbol]
		sort.Slice(group, func(i, j int) bool { return group[i].Venue < group[j].Venue })
		for i := range group {
			for j := range group {
				if i == j {
					continue
				}
				out = append(out, calc.Calculate(group[i], group[j], size, cost))
			}
		}
	}
	return out
}

func listingLots(listings map[string]market.Listing, plan universe.Plan) map[string]spread.LotRule {
	lots := make(map[string]spread.LotRule, len(plan.Items))
	for _, item := range plan.Items {
		inst, ok := listings[item.Venue][item.Symbol]
		if !ok {
			continue
		}
		lots[spread.LotKey(item.Venue, item.Symbol)] = spread.LotRule{
			Step:        inst.LotStep,
			MinQty:      inst.MinQty,
			MinNotional: inst.MinNotional,
		}
	}
	return lots
}

func (e *Engine) countConfigError() {
	e.metrics.ObserveConfigError()
}

func (e *Engine) observe(res CycleResult) {
	e.metrics.ObserveCycle(metrics.CycleSummary{
		Opportunities: len(res.Opportunities),
		Duration:      res.FinishedAt.Sub(res.StartedAt),
		Skipped:       res.Stats.Skipped,
		Outcomes:      res.Stats.Outcomes,
	})
}
