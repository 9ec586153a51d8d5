// Package ranker filters, deduplicates and orders spread results.
package ranker

import (
	"sort"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/spread"
)

// Options configure a ranking pass.
type Options struct {
	// MinNetSpreadPct drops profitable results below this percent.
	MinNetSpreadPct decimal.Decimal
	// TopN truncates the output; zero or negative keeps everything.
	TopN int
	// PerSymbol keeps only the best venue pair for each symbol.
	PerSymbol bool
}

// Rank returns the profitable results at or above the threshold, best first.
// Duplicate (symbol, buy venue, sell venue) entries keep the best one. The
// output order is fully determined by the input values.
func Rank(results []spread.Result, opts Options) []spread.Result {
	best := make(map[string]spread.Result, len(results))
	for _, r := range results {
		if !r.Profitable() || r.NetSpreadPct.LessThan(opts.MinNetSpreadPct) {
			continue
		}
		key := r.Symbol + "|" + r.BuyVenue + "|" + r.SellVenue
		if opts.PerSymbol {
			key = r.Symbol
		}
		if prev, ok := best[key]; ok && !less(r, prev) {
			continue
		}
		best[key] = r
	}

	ranked := make([]spread.Result, 0, len(best))
	for _, r := range best {
		ranked = append(ranked, r)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})
	if opts.TopN > 0 && len(ranked) > opts.TopN {
		ranked = ranked[:opts.TopN]
	}
	return ranked
}

// less orders a before b: net spread descending, notional descending, then
// symbol, buy venue and sell venue ascending.
func less(a, b spread.Result) bool {
	if c := a.NetSpreadPct.Cmp(b.NetSpreadPct); c != 0 {
		return c > 0
	}
	if c := a.Notional.Cmp(b.Notional); c != 0 {
		return c > 0
	}
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	if a.BuyVenue != b.BuyVenue {
		return a.BuyVenue < b.BuyVenue
	}
	return a.SellVenue < b.SellVenue
}
