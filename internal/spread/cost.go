package spread

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

// Wildcard matches any venue or asset in transfer and lot tables.
const Wildcard = "*"

// NetworkFee declares that a venue supports moving an asset over a network,
// and what withdrawing over it costs. Flat is in asset units, FlatQuote in
// USD, Pct a fraction of the transferred amount. Min and Max bound the
// transferable amount in asset units; zero means unbounded.
type NetworkFee struct {
	Venue     string
	Asset     string
	Network   string
	Flat      decimal.Decimal
	FlatQuote decimal.Decimal
	Pct       decimal.Decimal
	Min       decimal.Decimal
	Max       decimal.Decimal
}

// Cost returns the transfer cost in quote currency for qty units priced at price.
func (n NetworkFee) Cost(qty, price decimal.Decimal) decimal.Decimal {
	return n.Flat.Mul(price).Add(n.FlatQuote).Add(n.Pct.Mul(qty).Mul(price))
}

// LotRule constrains order sizes for a symbol on a venue.
type LotRule struct {
	Step        decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// CostModel carries trading and transfer costs for a scan cycle. It is
// read-only once handed to the calculator.
type CostModel struct {
	MakerFee         decimal.Decimal
	TakerFee         decimal.Decimal
	VenueFees        map[string]market.FeeSchedule
	Transfers        []NetworkFee
	PreferredNetwork string
	Lots             map[string]LotRule
}

// LotKey builds the Lots map key for a venue and canonical symbol.
func LotKey(venue, symbol string) string {
	return venue + "|" + symbol
}

// TakerFor resolves the taker rate: configured venue override, then the
// venue-declared schedule, then the model default.
func (c CostModel) TakerFor(venue string, declared *market.FeeSchedule) decimal.Decimal {
	if fees, ok := c.VenueFees[venue]; ok {
		return fees.Taker
	}
	if declared != nil {
		return declared.Taker
	}
	return c.TakerFee
}

// LotFor returns the lot rule for venue/symbol, falling back to the wildcard venue.
func (c CostModel) LotFor(venue, symbol string) LotRule {
	if rule, ok := c.Lots[LotKey(venue, symbol)]; ok {
		return rule
	}
	return c.Lots[LotKey(Wildcard, symbol)]
}

// WithLots returns a copy whose lot table also contains extra. Existing
// entries win so configured rules override venue metadata.
func (c CostModel) WithLots(extra map[string]LotRule) CostModel {
	merged := make(map[string]LotRule, len(c.Lots)+len(extra))
	for k, v := range extra {
		merged[k] = v
	}
	for k, v := range c.Lots {
		merged[k] = v
	}
	c.Lots = merged
	return c
}

// ForQuote returns the model as seen by symbols quoted in quote. FlatQuote
// rows are USD amounts, so they are dropped for pairs not quoted in USD or
// a stablecoin; such pairs need an asset-unit or percentage row to route.
func (c CostModel) ForQuote(quote string) CostModel {
	if usdQuoted(quote) {
		return c
	}
	kept := make([]NetworkFee, 0, len(c.Transfers))
	for _, fee := range c.Transfers {
		if fee.FlatQuote.IsZero() {
			kept = append(kept, fee)
		}
	}
	c.Transfers = kept
	return c
}

func usdQuoted(quote string) bool {
	return strings.EqualFold(quote, "USD") || market.IsStable(quote)
}

// networks returns the most specific NetworkFee per network for venue/asset.
func (c CostModel) networks(venue, asset string) map[string]NetworkFee {
	best := make(map[string]NetworkFee)
	rank := make(map[string]int)
	for _, fee := range c.Transfers {
		score := specificity(fee.Venue, venue) + specificity(fee.Asset, asset)
		if score < 0 {
			continue
		}
		network := strings.ToUpper(fee.Network)
		if prev, ok := rank[network]; ok && prev >= score {
			continue
		}
		rank[network] = score
		best[network] = fee
	}
	return best
}

// specificity scores exact matches 2, wildcards 0 and mismatches negative.
func specificity(pattern, value string) int {
	switch {
	case strings.EqualFold(pattern, value):
		return 2
	case pattern == Wildcard:
		return 0
	default:
		return -100
	}
}

// Route is the transfer path chosen between two venues.
type Route struct {
	Network string
	Fee     NetworkFee
}

// ResolveRoute picks the network used to move asset from the buy venue to the
// sell venue. The preferred network wins when both venues support it;
// otherwise the cheapest common network at qty/price is used, ties broken by
// name. ok is false when no common network exists.
func (c CostModel) ResolveRoute(from, to, asset string, qty, price decimal.Decimal) (Route, bool) {
	src := c.networks(from, asset)
	dst := c.networks(to, asset)

	preferred := strings.ToUpper(c.PreferredNetwork)
	if fee, ok := src[preferred]; ok && preferred != "" {
		if _, ok := dst[preferred]; ok {
			return Route{Network: preferred, Fee: fee}, true
		}
	}

	common := make([]string, 0, len(src))
	for network := range src {
		if _, ok := dst[network]; ok {
			common = append(common, network)
		}
	}
	if len(common) == 0 {
		return Route{}, false
	}
	sort.Slice(common, func(i, j int) bool {
		ci := src[common[i]].Cost(qty, price)
		cj := src[common[j]].Cost(qty, price)
		if cmp := ci.Cmp(cj); cmp != 0 {
			return cmp < 0
		}
		return common[i] < common[j]
	})
	return Route{Network: common[0], Fee: src[common[0]]}, true
}
