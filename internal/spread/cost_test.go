package spread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-scanner/internal/market"
)

func TestResolveRoutePrefersConfiguredNetwork(t *testing.T) {
	cost := CostModel{
		PreferredNetwork: "erc20",
		Transfers: []NetworkFee{
			{Venue: Wildcard, Asset: "USDT", Network: "TRC20", Flat: d("1")},
			{Venue: Wildcard, Asset: "USDT", Network: "ERC20", Flat: d("10")},
		},
	}
	route, ok := cost.ResolveRoute("okx", "gate", "USDT", d("100"), d("1"))
	require.True(t, ok)
	assert.Equal(t, "ERC20", route.Network)
}

func TestResolveRouteFallsBackToCheapestCommon(t *testing.T) {
	cost := CostModel{
		PreferredNetwork: "TRC20",
		Transfers: []NetworkFee{
			{Venue: "okx", Asset: "USDT", Network: "TRC20", Flat: d("1")},
			{Venue: "okx", Asset: "USDT", Network: "ERC20", Flat: d("10")},
			{Venue: "okx", Asset: "USDT", Network: "BEP20", Flat: d("0.8")},
			{Venue: "gate", Asset: "USDT", Network: "ERC20", Flat: d("5")},
			{Venue: "gate", Asset: "USDT", Network: "BEP20", Flat: d("0.5")},
		},
	}
	route, ok := cost.ResolveRoute("okx", "gate", "USDT", d("100"), d("1"))
	require.True(t, ok)
	assert.Equal(t, "BEP20", route.Network)
	// the withdrawing venue pays
	assert.True(t, route.Fee.Flat.Equal(d("0.8")))
}

func TestResolveRouteTieBreaksByName(t *testing.T) {
	cost := CostModel{
		Transfers: []NetworkFee{
			{Venue: Wildcard, Asset: Wildcard, Network: "SOL", Flat: d("1")},
			{Venue: Wildcard, Asset: Wildcard, Network: "ARB", Flat: d("1")},
		},
	}
	for range 5 {
		route, ok := cost.ResolveRoute("a", "b", "ETH", d("1"), d("2000"))
		require.True(t, ok)
		assert.Equal(t, "ARB", route.Network)
	}
}

func TestResolveRouteSpecificEntryOverridesWildcard(t *testing.T) {
	cost := CostModel{
		Transfers: []NetworkFee{
			{Venue: Wildcard, Asset: Wildcard, Network: "TRC20", Flat: d("1")},
			{Venue: "okx", Asset: "USDT", Network: "TRC20", Flat: d("3")},
		},
	}
	route, ok := cost.ResolveRoute("okx", "gate", "USDT", d("1"), d("1"))
	require.True(t, ok)
	assert.True(t, route.Fee.Flat.Equal(d("3")))

	route, ok = cost.ResolveRoute("gate", "okx", "USDT", d("1"), d("1"))
	require.True(t, ok)
	assert.True(t, route.Fee.Flat.Equal(d("1")))
}

func TestResolveRouteNoCommonNetwork(t *testing.T) {
	cost := CostModel{
		PreferredNetwork: "TRC20",
		Transfers: []NetworkFee{
			{Venue: "okx", Asset: "USDT", Network: "TRC20"},
			{Venue: "gate", Asset: "USDT", Network: "ERC20"},
		},
	}
	_, ok := cost.ResolveRoute("okx", "gate", "USDT", d("1"), d("1"))
	assert.False(t, ok)
}

func TestNetworkFeeCost(t *testing.T) {
	fee := NetworkFee{Flat: d("0.001"), FlatQuote: d("2"), Pct: d("0.01")}
	// 0.001*50000 + 2 + 0.01*0.5*50000
	assert.True(t, fee.Cost(d("0.5"), d("50000")).Equal(d("302")))
}

func TestTakerPrecedence(t *testing.T) {
	cost := CostModel{
		TakerFee:  d("0.001"),
		VenueFees: map[string]market.FeeSchedule{"okx": {Taker: d("0.0008")}},
	}
	declared := &market.FeeSchedule{Taker: d("0.002")}

	assert.True(t, cost.TakerFor("okx", declared).Equal(d("0.0008")))
	assert.True(t, cost.TakerFor("gate", declared).Equal(d("0.002")))
	assert.True(t, cost.TakerFor("gate", nil).Equal(d("0.001")))
}

func TestWithLotsKeepsConfiguredRules(t *testing.T) {
	cost := CostModel{Lots: map[string]LotRule{LotKey("okx", "BTC/USDT"): {Step: d("0.1")}}}
	merged := cost.WithLots(map[string]LotRule{
		LotKey("okx", "BTC/USDT"):  {Step: d("0.00001")},
		LotKey("gate", "BTC/USDT"): {Step: d("0.0001")},
	})
	assert.True(t, merged.LotFor("okx", "BTC/USDT").Step.Equal(d("0.1")))
	assert.True(t, merged.LotFor("gate", "BTC/USDT").Step.Equal(d("0.0001")))
	assert.Len(t, cost.Lots, 1)
}

func TestPathEvaluate(t *testing.T) {
	p2p, err := market.NewOrderBook("p2p", "USDT/USD", nil, []market.Level{lvl("1.01", "1000")}, ts, nil)
	require.NoError(t, err)
	spot, err := market.NewOrderBook("okx", "USDT/USD", []market.Level{lvl("1.02", "1000")}, nil, ts, nil)
	require.NoError(t, err)

	path := Path{
		ConvertStep{Book: p2p, Side: SideBuy},
		TransferStep{Network: "TRC20", Flat: d("1")},
		ConvertStep{Book: spot, Side: SideSell},
	}
	res, err := path.Evaluate(d("101"))
	require.NoError(t, err)
	require.Len(t, res.Amounts, 3)
	assert.True(t, res.Amounts[0].Equal(d("100")))
	assert.True(t, res.Amounts[1].Equal(d("99")))
	assert.True(t, res.End.Equal(d("100.98")))
	assert.True(t, res.ROIPct.Equal(d("-0.019802")), "roi=%s", res.ROIPct)

	_, err = Path{ConvertStep{Book: spot, Side: SideSell}}.Evaluate(d("5000"))
	require.ErrorIs(t, err, ErrPathDepth)
}

func TestForQuoteDropsUSDRowsForOtherQuotes(t *testing.T) {
	cost := CostModel{Transfers: []NetworkFee{
		{Venue: Wildcard, Asset: "USDT", Network: "TRC20", Flat: d("1")},
		{Venue: Wildcard, Asset: Wildcard, Network: "NATIVE", FlatQuote: d("1")},
		{Venue: Wildcard, Asset: Wildcard, Network: "LN", Pct: d("0.001")},
	}}

	assert.Len(t, cost.ForQuote("USDT").Transfers, 3)
	assert.Len(t, cost.ForQuote("usd").Transfers, 3)

	btc := cost.ForQuote("BTC")
	require.Len(t, btc.Transfers, 2)
	for _, fee := range btc.Transfers {
		assert.NotEqual(t, "NATIVE", fee.Network)
	}
	assert.Len(t, cost.Transfers, 3, "receiver must not be modified")
}
