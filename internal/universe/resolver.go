// Package universe turns a requested symbol universe and the symbols each
// venue lists into the (venue, symbol) work items of a scan cycle.
package universe

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

// AnyQuote are the quote filter markers that accept every quote currency.
var AnyQuote = []string{"ANY", "*"}

// EmptyUniverseError reports that resolution produced no work items.
type EmptyUniverseError struct {
	Reason string
}

func (e *EmptyUniverseError) Error() string {
	return "empty universe: " + e.Reason
}

// Request is the universe requested for a cycle.
type Request struct {
	// Bases is an explicit, ranked base allow-list. It takes precedence over
	// the preset.
	Bases []string
	// Preset names a ranked base list such as TOP100 or CMC_TOP50; empty or
	// NONE disables it.
	Preset string
	// Quotes filters quote currencies; ANY or * accepts all.
	Quotes  []string
	Venues  []string
	Exclude []string
	// MaxSymbols caps the number of symbols; zero means unlimited.
	MaxSymbols  int
	SkipStables bool
	// MinVenues is how many included venues must list a symbol; defaults to 2.
	MinVenues int
	// MinQuoteVolume drops a symbol on a venue whose 24h quote volume is
	// below it. Venues that report no volume count as zero. Zero disables.
	MinQuoteVolume decimal.Decimal
	ItemTimeout    time.Duration
}

// WorkItem is one fetch of a symbol's book on a venue. Timeout is the item's
// own deadline, counted from when a worker starts it.
type WorkItem struct {
	Venue   string
	Symbol  string
	Timeout time.Duration
}

// Plan is the resolved universe of one cycle.
type Plan struct {
	Venues  []string
	Symbols []string
	Items   []WorkItem
}

// Resolve computes the work items for req. ranked is the preset's base
// order (best first) and listings maps venue to its listed instruments. The
// result depends only on its inputs.
func Resolve(req Request, ranked []string, listings map[string]market.Listing) (Plan, error) {
	venues := includedVenues(req.Venues, req.Exclude)
	if len(venues) == 0 {
		return Plan{}, &EmptyUniverseError{Reason: "no venues left after exclusions"}
	}

	rank, err := baseRanking(req, ranked)
	if err != nil {
		return Plan{}, err
	}
	anyQuote, quoteRank := quoteFilter(req.Quotes)
	minVenues := req.MinVenues
	if minVenues <= 0 {
		minVenues = 2
	}

	listedOn := make(map[string][]string)
	symbols := make(map[string]market.Symbol)
	for _, v := range venues {
		for key, inst := range listings[v] {
			sym := inst.Symbol
			if req.SkipStables && sym.IsStablePair() {
				continue
			}
			if !anyQuote {
				if _, ok := quoteRank[sym.Quote]; !ok {
					continue
				}
			}
			if rank != nil {
				if _, ok := rank[sym.Base]; !ok {
					continue
				}
			}
			if req.MinQuoteVolume.IsPositive() && inst.QuoteVolume.LessThan(req.MinQuoteVolume) {
				continue
			}
			listedOn[key] = append(listedOn[key], v)
			symbols[key] = sym
		}
	}

	keys := make([]string, 0, len(listedOn))
	for key, on := range listedOn {
		if len(on) >= minVenues {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := symbols[keys[i]], symbols[keys[j]]
		if rank != nil && rank[a.Base] != rank[b.Base] {
			return rank[a.Base] < rank[b.Base]
		}
		if !anyQuote && quoteRank[a.Quote] != quoteRank[b.Quote] {
			return quoteRank[a.Quote] < quoteRank[b.Quote]
		}
		return keys[i] < keys[j]
	})
	if req.MaxSymbols > 0 && len(keys) > req.MaxSymbols {
		keys = keys[:req.MaxSymbols]
	}

	plan := Plan{Venues: venues, Symbols: keys}
	for _, key := range keys {
		on := listedOn[key]
		sort.Strings(on)
		for _, v := range on {
			plan.Items = append(plan.Items, WorkItem{Venue: v, Symbol: key, Timeout: req.ItemTimeout})
		}
	}
	if len(plan.Items) == 0 {
		return Plan{}, &EmptyUniverseError{
			Reason: fmt.Sprintf("no symbol matches the filters on at least %d of %d venues", minVenues, len(venues)),
		}
	}
	return plan, nil
}

func includedVenues(venues, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	seen := make(map[string]struct{}, len(venues))
	out := make([]string, 0, len(venues))
	for _, v := range venues {
		v = strings.TrimSpace(v)
		id := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// baseRanking returns base -> rank, or nil when no base filter applies.
func baseRanking(req Request, ranked []string) (map[string]int, error) {
	list := req.Bases
	if len(list) == 0 {
		n, ok, err := ParsePreset(req.Preset)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		list = ranked
		if len(list) > n {
			list = list[:n]
		}
		if len(list) == 0 {
			return nil, &EmptyUniverseError{Reason: fmt.Sprintf("preset %s resolved to no bases", req.Preset)}
		}
	}
	rank := make(map[string]int, len(list))
	for i, base := range list {
		base = strings.ToUpper(strings.TrimSpace(base))
		if _, dup := rank[base]; !dup && base != "" {
			rank[base] = i
		}
	}
	return rank, nil
}

func quoteFilter(quotes []string) (bool, map[string]int) {
	rank := make(map[string]int, len(quotes))
	for _, q := range quotes {
		q = strings.ToUpper(strings.TrimSpace(q))
		for _, marker := range AnyQuote {
			if q == marker {
				return true, nil
			}
		}
		if _, dup := rank[q]; !dup && q != "" {
			rank[q] = len(rank)
		}
	}
	if len(rank) == 0 {
		return true, nil
	}
	return false, rank
}
