package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
	"spread-scanner/internal/scanner"
	"spread-scanner/internal/spread"
	"spread-scanner/internal/universe"
	"spread-scanner/internal/venue"
)

// VenueSpecs converts the venues section into venue constructors input.
func (c *Config) VenueSpecs() []venue.Spec {
	specs := make([]venue.Spec, 0, len(c.Venues))
	for _, vc := range c.Venues {
		spec := venue.Spec{
			Name:   strings.ToLower(strings.TrimSpace(vc.Name)),
			Family: vc.Family,
			Options: venue.Options{
				BaseURL:   vc.BaseURL,
				Timeout:   vc.Timeout,
				RateLimit: vc.RateLimit,
				Burst:     vc.Burst,
				UserAgent: c.App.Name,
			},
			Assets:   vc.Assets,
			Fiats:    vc.Fiats,
			PayTypes: vc.PayTypes,
			Symbols:  vc.Symbols,
			Mid:      vc.Mid,
			Shift:    vc.Shift,
			Latency:  vc.Latency,

			QuoteVolume: vc.QuoteVolume,
		}
		if !vc.MakerFee.IsZero() || !vc.TakerFee.IsZero() {
			spec.Options.Fees = &market.FeeSchedule{Maker: vc.MakerFee, Taker: vc.TakerFee}
		}
		specs = append(specs, spec)
	}
	return specs
}

// VenueNames lists configured venue names in configuration order.
func (c *Config) VenueNames() []string {
	names := make([]string, 0, len(c.Venues))
	for _, vc := range c.Venues {
		names = append(names, strings.ToLower(strings.TrimSpace(vc.Name)))
	}
	return names
}

// CostModel builds the fee, transfer and lot tables.
func (c *Config) CostModel() (spread.CostModel, error) {
	cost := spread.CostModel{
		MakerFee:         c.Fees.Maker,
		TakerFee:         c.Fees.Taker,
		VenueFees:        make(map[string]market.FeeSchedule),
		PreferredNetwork: strings.ToUpper(c.Fees.PreferredNetwork),
		Lots:             make(map[string]spread.LotRule, len(c.Lots)),
	}
	for _, vc := range c.Venues {
		if vc.MakerFee.IsZero() && vc.TakerFee.IsZero() {
			continue
		}
		cost.VenueFees[strings.ToLower(vc.Name)] = market.FeeSchedule{Maker: vc.MakerFee, Taker: vc.TakerFee}
	}
	for _, t := range c.Transfers {
		cost.Transfers = append(cost.Transfers, spread.NetworkFee{
			Venue:     strings.ToLower(orWildcard(t.Venue)),
			Asset:     strings.ToUpper(orWildcard(t.Asset)),
			Network:   strings.ToUpper(t.Network),
			Flat:      t.Flat,
			FlatQuote: t.FlatQuote,
			Pct:       t.Pct,
			Min:       t.Min,
			Max:       t.Max,
		})
	}
	for _, l := range c.Lots {
		sym, err := market.ParseSymbol(l.Symbol)
		if err != nil {
			return spread.CostModel{}, fmt.Errorf("lots: %w", err)
		}
		cost.Lots[spread.LotKey(strings.ToLower(l.Venue), sym.String())] = spread.LotRule{
			Step:        l.Step,
			MinQty:      l.MinQty,
			MinNotional: l.MinNotional,
		}
	}
	return cost, nil
}

// ScannerConfig assembles the per-cycle scan configuration. venues
// overrides the configured venue list when non-empty.
func (c *Config) ScannerConfig(venues []string) (scanner.Config, error) {
	cost, err := c.CostModel()
	if err != nil {
		return scanner.Config{}, err
	}
	if len(venues) == 0 {
		venues = c.VenueNames()
	}
	return scanner.Config{
		Universe: universe.Request{
			Bases:          upperAll(c.Universe.Bases),
			Preset:         c.Universe.Preset,
			Quotes:         upperAll(c.Universe.Quotes),
			Venues:         venues,
			Exclude:        lowerAll(c.Universe.Exclude),
			MaxSymbols:     c.Universe.MaxSymbols,
			SkipStables:    c.Universe.SkipStables,
			MinVenues:      c.Universe.MinVenues,
			MinQuoteVolume: c.Scan.MinVolume,
			ItemTimeout:    c.Scan.ItemTimeout,
		},
		Size: spread.Request{
			Size: c.Scan.Size,
			Unit: spread.SizeUnit(strings.ToLower(c.Scan.SizeUnit)),
		},
		Depth:            c.Scan.Depth,
		Workers:          c.Scan.Workers,
		ItemTimeout:      c.Scan.ItemTimeout,
		MinDepthFraction: c.Scan.MinDepthFraction,
		MinNetSpreadPct:  c.Scan.MinNetSpreadPct,
		TopN:             c.Scan.TopN,
		PerSymbol:        c.Scan.PerSymbol,
		EnforceLots:      c.Scan.EnforceLots,
		Cost:             cost,
	}, nil
}

// PresetSize is how many ranked bases the listing cache should fetch.
func (c *Config) PresetSize() int {
	n, ok, err := universe.ParsePreset(c.Universe.Preset)
	if err != nil || !ok {
		return 0
	}
	return n
}

// AlertThreshold returns the alerting threshold, never below the ranking
// threshold.
func (c *Config) AlertThreshold() decimal.Decimal {
	return decimal.Max(c.Alerting.ThresholdPct, c.Scan.MinNetSpreadPct)
}

func orWildcard(s string) string {
	if strings.TrimSpace(s) == "" {
		return spread.Wildcard
	}
	return strings.TrimSpace(s)
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
