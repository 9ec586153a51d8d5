package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spread-scanner/internal/market"
	"spread-scanner/internal/metrics"
	"spread-scanner/internal/universe"
	"spread-scanner/internal/venue"
)

// Fetched is the settled outcome of one work item.
type Fetched struct {
	Item    universe.WorkItem
	Book    market.OrderBook
	Err     error
	Kind    venue.Kind
	Elapsed time.Duration
}

// OK reports whether the fetch produced a book.
func (f Fetched) OK() bool { return f.Err == nil }

// Pool fetches work items with at most Workers requests in flight. Each item
// runs under its own deadline; a fetch that ignores cancellation is abandoned
// when the deadline passes so its worker moves on.
type Pool struct {
	clients map[string]venue.Client
	workers int
	depth   int
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewPool builds a pool over clients keyed by venue name.
func NewPool(clients map[string]venue.Client, workers, depth int, reg *metrics.Registry, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		clients: clients,
		workers: workers,
		depth:   depth,
		metrics: reg,
		logger:  logger.With().Str("component", "pool").Logger(),
	}
}

// Run returns once every item has succeeded, failed or timed out. Results
// are in completion order.
func (p *Pool) Run(ctx context.Context, items []universe.WorkItem) []Fetched {
	queue := make(chan universe.WorkItem, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	var (
		mu      sync.Mutex
		results = make([]Fetched, 0, len(items))
		wg      sync.WaitGroup
	)
	for range min(p.workers, len(items)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				res := p.fetch(ctx, item)
				p.observe(res)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results
}

type fetchResult struct {
	book market.OrderBook
	err  error
}

func (p *Pool) fetch(ctx context.Context, item universe.WorkItem) Fetched {
	start := time.Now()
	out := Fetched{Item: item}
	if err := ctx.Err(); err != nil {
		out.Err = err
		out.Kind = venue.KindUnknown
		return out
	}
	client, ok := p.clients[item.Venue]
	if !ok {
		out.Err = fmt.Errorf("no client for venue %s", item.Venue)
		out.Kind = venue.KindUnknown
		return out
	}

	var (
		itemCtx context.Context
		cancel  context.CancelFunc
	)
	if item.Timeout > 0 {
		itemCtx, cancel = context.WithTimeout(ctx, item.Timeout)
	} else {
		itemCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// buffered so an abandoned fetch can still complete its send
	done := make(chan fetchResult, 1)
	go func() {
		book, err := client.FetchOrderBook(itemCtx, item.Symbol, p.depth)
		done <- fetchResult{book: book, err: err}
	}()

	select {
	case r := <-done:
		out.Book, out.Err = r.book, r.err
		if r.err == nil && (r.book.Venue != item.Venue || r.book.Symbol != item.Symbol) {
			out.Err = fmt.Errorf("%s returned book for %s/%s", item.Venue, r.book.Venue, r.book.Symbol)
		}
	case <-itemCtx.Done():
		out.Err = itemCtx.Err()
	}
	out.Elapsed = time.Since(start)
	if out.Err != nil {
		out.Book = market.OrderBook{}
		out.Kind = venue.Classify(out.Err)
		if errors.Is(out.Err, context.DeadlineExceeded) && ctx.Err() == nil {
			out.Kind = venue.KindTimeout
		}
		p.logger.Debug().Err(out.Err).
			Str("venue", item.Venue).
			Str("symbol", item.Symbol).
			Str("reason", string(out.Kind)).
			Dur("elapsed", out.Elapsed).
			Msg("fetch failed")
	}
	return out
}

func (p *Pool) observe(res Fetched) {
	outcome := "ok"
	if !res.OK() {
		outcome = string(res.Kind)
	}
	p.metrics.ObserveFetch(res.Item.Venue, outcome)
}
