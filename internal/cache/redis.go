// Package cache shares listings and the latest cycle between scanner
// processes through Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"spread-scanner/internal/export"
	"spread-scanner/internal/market"
	"spread-scanner/internal/universe"
)

// ErrNotFound is returned when a key is missing or expired.
var ErrNotFound = errors.New("cache: not found")

// Options hold connection parameters.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Store keeps listings and the latest cycle in Redis.
//
// Key schema:
//
//	{prefix}:listing:{venue} - hash with fields "data" (JSON) and "refreshed_at"
//	{prefix}:cycle:latest    - string with the latest cycle document
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects and pings Redis.
func New(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewWithClient(rdb, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "spreadscan"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Store{rdb: rdb, prefix: opts.Prefix, ttl: opts.TTL}
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) listingKey(venue string) string { return s.prefix + ":listing:" + venue }
func (s *Store) latestKey() string              { return s.prefix + ":cycle:latest" }

// SaveListing stores a venue's listing with the configured TTL.
func (s *Store) SaveListing(ctx context.Context, venue string, listing market.Listing) error {
	data, err := encodeListing(listing)
	if err != nil {
		return fmt.Errorf("redis: marshal listing %s: %w", venue, err)
	}
	key := s.listingKey(venue)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "refreshed_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save listing %s: %w", venue, err)
	}
	return nil
}

// LoadListing returns ErrNotFound when the venue has no cached listing.
func (s *Store) LoadListing(ctx context.Context, venue string) (market.Listing, error) {
	data, err := s.rdb.HGet(ctx, s.listingKey(venue), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis: load listing %s: %w", venue, err)
	}
	listing, err := decodeListing(data)
	if err != nil {
		return nil, fmt.Errorf("redis: unmarshal listing %s: %w", venue, err)
	}
	return listing, nil
}

// SaveCycle stores the latest cycle document.
func (s *Store) SaveCycle(ctx context.Context, doc export.Cycle) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: marshal cycle: %w", err)
	}
	if err := s.rdb.Set(ctx, s.latestKey(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save cycle: %w", err)
	}
	return nil
}

// LatestCycle returns the most recently saved cycle document.
func (s *Store) LatestCycle(ctx context.Context) (export.Cycle, error) {
	data, err := s.rdb.Get(ctx, s.latestKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return export.Cycle{}, ErrNotFound
		}
		return export.Cycle{}, fmt.Errorf("redis: latest cycle: %w", err)
	}
	var doc export.Cycle
	if err := json.Unmarshal(data, &doc); err != nil {
		return export.Cycle{}, fmt.Errorf("redis: unmarshal cycle: %w", err)
	}
	return doc, nil
}

type instrumentDTO struct {
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	LotStep     decimal.Decimal `json:"lot_step"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

func encodeListing(listing market.Listing) ([]byte, error) {
	out := make([]instrumentDTO, 0, len(listing))
	for _, inst := range listing {
		out = append(out, instrumentDTO{
			Base:        inst.Symbol.Base,
			Quote:       inst.Symbol.Quote,
			LotStep:     inst.LotStep,
			MinQty:      inst.MinQty,
			MinNotional: inst.MinNotional,
		})
	}
	return json.Marshal(out)
}

func decodeListing(data []byte) (market.Listing, error) {
	var in []instrumentDTO
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	listing := make(market.Listing, len(in))
	for _, dto := range in {
		listing.Add(market.Instrument{
			Symbol:      market.Symbol{Base: dto.Base, Quote: dto.Quote},
			LotStep:     dto.LotStep,
			MinQty:      dto.MinQty,
			MinNotional: dto.MinNotional,
		})
	}
	return listing, nil
}

var _ universe.ListingStore = (*Store)(nil)
