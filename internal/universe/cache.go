package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spread-scanner/internal/market"
	"spread-scanner/internal/venue"
)

// ListingStore shares listings between processes, e.g. through Redis.
type ListingStore interface {
	SaveListing(ctx context.Context, venue string, listing market.Listing) error
	LoadListing(ctx context.Context, venue string) (market.Listing, error)
}

// CacheOptions tune the listed-symbol cache.
type CacheOptions struct {
	RefreshEvery   time.Duration
	MaxTries       uint
	InitialBackoff time.Duration
	Concurrency    int
	// PresetSize is how many ranked bases to request from the preset
	// source; zero skips the ranking.
	PresetSize int
}

// Snapshot is a read-only view of the cache taken between cycles.
type Snapshot struct {
	Listings    map[string]market.Listing
	Ranked      []string
	RefreshedAt time.Time
}

// ListingCache holds the symbols each venue lists and the preset ranking.
// It is refreshed on a slower cadence than the scan and only between cycles.
type ListingCache struct {
	clients map[string]venue.Client
	presets PresetSource
	store   ListingStore
	opts    CacheOptions
	logger  zerolog.Logger

	mu          sync.RWMutex
	listings    map[string]market.Listing
	ranked      []string
	refreshedAt time.Time
}

// NewListingCache constructs an empty cache. store and presets may be nil.
func NewListingCache(clients map[string]venue.Client, presets PresetSource, store ListingStore, opts CacheOptions, logger zerolog.Logger) *ListingCache {
	if opts.RefreshEvery <= 0 {
		opts.RefreshEvery = 15 * time.Minute
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if presets == nil {
		presets = StaticPreset{}
	}
	return &ListingCache{
		clients:  clients,
		presets:  presets,
		store:    store,
		opts:     opts,
		logger:   logger.With().Str("component", "listing_cache").Logger(),
		listings: make(map[string]market.Listing),
	}
}

// Due reports whether the cache is empty or older than RefreshEvery.
func (c *ListingCache) Due(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt.IsZero() || now.Sub(c.refreshedAt) >= c.opts.RefreshEvery
}

// Refresh reloads every venue listing concurrently with bounded retries. A
// venue that still fails keeps its previous listing, falling back to the
// shared store. An error is returned only when no venue has any listing.
func (c *ListingCache) Refresh(ctx context.Context) error {
	names := make([]string, 0, len(c.clients))
	for name := range c.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	fresh := make(map[string]market.Listing, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, name := range names {
		client := c.clients[name]
		g.Go(func() error {
			listing, err := c.load(gctx, client)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn().Err(err).Str("venue", name).Msg("listing refresh failed, keeping previous")
				return nil
			}
			mu.Lock()
			fresh[name] = listing
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var ranked []string
	if c.opts.PresetSize > 0 {
		var err error
		ranked, err = c.presets.TopBases(ctx, c.opts.PresetSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Msg("preset ranking failed, keeping previous")
			ranked = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make(map[string]market.Listing, len(names))
	for _, name := range names {
		if l, ok := fresh[name]; ok {
			merged[name] = l
		} else if l, ok := c.listings[name]; ok {
			merged[name] = l
		} else if l := c.fromStore(ctx, name); l != nil {
			merged[name] = l
		}
	}
	c.listings = merged
	if len(ranked) > 0 {
		c.ranked = ranked
	}
	c.refreshedAt = time.Now()
	c.logger.Info().Int("venues", len(merged)).Int("fresh", len(fresh)).Int("ranked", len(c.ranked)).Msg("listings refreshed")

	if len(merged) == 0 && len(names) > 0 {
		return errors.New("no venue listings available")
	}
	return nil
}

func (c *ListingCache) load(ctx context.Context, client venue.Client) (market.Listing, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxInterval = c.opts.InitialBackoff * 10

	listing, err := backoff.Retry(ctx, func() (market.Listing, error) {
		l, err := client.ListSymbols(ctx)
		if err != nil {
			switch venue.Classify(err) {
			case venue.KindAuth, venue.KindNotListed:
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return l, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.opts.MaxTries))
	if err != nil {
		return nil, fmt.Errorf("list symbols on %s: %w", client.Name(), err)
	}
	if c.store != nil {
		if err := c.store.SaveListing(ctx, client.Name(), listing); err != nil {
			c.logger.Warn().Err(err).Str("venue", client.Name()).Msg("listing store save failed")
		}
	}
	return listing, nil
}

func (c *ListingCache) fromStore(ctx context.Context, name string) market.Listing {
	if c.store == nil {
		return nil
	}
	listing, err := c.store.LoadListing(ctx, name)
	if err != nil || len(listing) == 0 {
		return nil
	}
	c.logger.Info().Str("venue", name).Int("symbols", len(listing)).Msg("listing restored from store")
	return listing
}

// Snapshot returns the current listings and ranking. Listing maps are
// replaced, never mutated, so callers may read them without locking.
func (c *ListingCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	listings := make(map[string]market.Listing, len(c.listings))
	for k, v := range c.listings {
		listings[k] = v
	}
	return Snapshot{
		Listings:    listings,
		Ranked:      append([]string(nil), c.ranked...),
		RefreshedAt: c.refreshedAt,
	}
}
