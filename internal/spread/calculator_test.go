package spread

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-scanner/internal/market"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lvl(price, size string) market.Level {
	return market.Level{Price: d(price), Size: d(size)}
}

var ts = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func book(t *testing.T, venue string, bids, asks []market.Level) market.OrderBook {
	t.Helper()
	b, err := market.NewOrderBook(venue, "BTC/USDT", bids, asks, ts, nil)
	require.NoError(t, err)
	return b
}

func flatRouteModel(flatQuote string) CostModel {
	return CostModel{
		TakerFee: d("0.001"),
		MakerFee: d("0.001"),
		Transfers: []NetworkFee{
			{Venue: Wildcard, Asset: Wildcard, Network: "TRC20", FlatQuote: d(flatQuote)},
		},
		PreferredNetwork: "TRC20",
	}
}

func TestCalculateNetSpreadAfterFeesAndTransfer(t *testing.T) {
	buy := book(t, "alpha", []market.Level{lvl("99", "10")}, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("101", "10")}, []market.Level{lvl("102", "10")})

	calc := NewCalculator(Options{MinNetSpreadPct: d("0.5")})
	res := calc.Calculate(buy, sell, Request{Size: d("5"), Unit: SizeBase}, flatRouteModel("1"))

	require.Equal(t, StatusProfitable, res.Status, "reason=%s", res.Reason)
	assert.True(t, res.GrossSpreadPct.Equal(d("1")), "gross=%s", res.GrossSpreadPct)
	// proceeds 504.495, spent 500.5, transfer 1 over notional 500
	assert.True(t, res.NetSpreadPct.Equal(d("0.599")), "net=%s", res.NetSpreadPct)
	assert.True(t, res.NetSpreadPct.LessThan(res.GrossSpreadPct))
	assert.True(t, res.Size.Equal(d("5")))
	assert.True(t, res.Notional.Equal(d("500")))
	assert.True(t, res.TransferCost.Equal(d("1")))
	assert.Equal(t, "TRC20", res.Network)
	assert.Equal(t, ts, res.Timestamp)
}

func TestCalculateBelowThreshold(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("101", "10")}, nil)

	calc := NewCalculator(Options{MinNetSpreadPct: d("0.8")})
	res := calc.Calculate(buy, sell, Request{Size: d("5"), Unit: SizeBase}, flatRouteModel("1"))
	assert.Equal(t, StatusBelowThreshold, res.Status)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.False(t, res.Profitable())
}

func TestCalculateInsufficientDepth(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "500"), lvl("100.5", "600")})
	sell := book(t, "beta", []market.Level{lvl("101", "30"), lvl("100.9", "20")}, nil)

	calc := NewCalculator(Options{})
	res := calc.Calculate(buy, sell, Request{Size: d("1000"), Unit: SizeBase}, flatRouteModel("1"))
	assert.Equal(t, StatusNotComputable, res.Status)
	assert.Equal(t, ReasonInsufficientDepth, res.Reason)
	assert.True(t, res.Size.Equal(d("50")))
}

func TestCalculatePartialDepthAllowedByFraction(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("103", "6")}, nil)

	calc := NewCalculator(Options{MinDepthFraction: d("0.5")})
	res := calc.Calculate(buy, sell, Request{Size: d("10"), Unit: SizeBase}, flatRouteModel("0"))
	require.NotEqual(t, StatusNotComputable, res.Status, "reason=%s", res.Reason)
	assert.True(t, res.Size.Equal(d("6")))
}

func TestCalculateDepthFractionBoundary(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("103", "6")}, nil)
	req := Request{Size: d("10"), Unit: SizeBase}

	res := NewCalculator(Options{}).Calculate(buy, sell, req, flatRouteModel("0"))
	assert.Equal(t, ReasonInsufficientDepth, res.Reason, "unset fraction requires full depth")

	res = NewCalculator(Options{MinDepthFraction: d("0.01")}).Calculate(buy, sell, req, flatRouteModel("0"))
	require.NotEqual(t, StatusNotComputable, res.Status, "reason=%s", res.Reason)
	assert.True(t, res.Size.Equal(d("6")), "size=%s", res.Size)

	res = NewCalculator(Options{MinDepthFraction: d("1")}).Calculate(buy, sell, req, flatRouteModel("0"))
	assert.Equal(t, ReasonInsufficientDepth, res.Reason)
}

func TestCalculateBelowLotSize(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("101", "10")}, nil)

	cost := flatRouteModel("0")
	cost.Lots = map[string]LotRule{LotKey(Wildcard, "BTC/USDT"): {Step: d("0.01")}}

	calc := NewCalculator(Options{})
	res := calc.Calculate(buy, sell, Request{Size: d("0.0049"), Unit: SizeBase}, cost)
	assert.Equal(t, StatusNotComputable, res.Status)
	assert.Equal(t, ReasonBelowLotSize, res.Reason)
	assert.True(t, res.Size.IsZero())
}

func TestCalculateRoundsDownToLotStep(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("102", "10")}, nil)

	cost := flatRouteModel("0")
	cost.Lots = map[string]LotRule{
		LotKey("alpha", "BTC/USDT"): {Step: d("0.01")},
		LotKey("beta", "BTC/USDT"):  {Step: d("0.5")},
	}
	res := NewCalculator(Options{MinDepthFraction: d("0.5")}).
		Calculate(buy, sell, Request{Size: d("1.2345"), Unit: SizeBase}, cost)
	require.NotEqual(t, StatusNotComputable, res.Status, "reason=%s", res.Reason)
	assert.True(t, res.Size.Equal(d("1")), "size=%s", res.Size)
}

func TestCalculateLotStepsThatDoNotNest(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("102", "10")}, nil)

	cost := flatRouteModel("0")
	cost.Lots = map[string]LotRule{
		LotKey("alpha", "BTC/USDT"): {Step: d("0.3")},
		LotKey("beta", "BTC/USDT"):  {Step: d("0.2")},
	}
	res := NewCalculator(Options{MinDepthFraction: d("0.5")}).
		Calculate(buy, sell, Request{Size: d("1"), Unit: SizeBase}, cost)
	require.NotEqual(t, StatusNotComputable, res.Status, "reason=%s", res.Reason)
	assert.True(t, res.Size.Equal(d("0.6")), "size=%s", res.Size)
	assert.True(t, res.Size.Mod(d("0.3")).IsZero())
	assert.True(t, res.Size.Mod(d("0.2")).IsZero())
}

func TestCommonStep(t *testing.T) {
	cases := []struct{ a, b, want string }{
		{"0.3", "0.2", "0.6"},
		{"0.01", "0.5", "0.5"},
		{"0.001", "0.001", "0.001"},
		{"0", "0.25", "0.25"},
		{"0.4", "0", "0.4"},
		{"1.5", "0.04", "3"},
	}
	for _, tc := range cases {
		got := commonStep(d(tc.a), d(tc.b))
		assert.True(t, got.Equal(d(tc.want)), "%s,%s: got %s", tc.a, tc.b, got)
	}
	assert.True(t, commonStep(decimal.Zero, decimal.Zero).IsZero())
}

func TestCalculateFlatQuoteNeedsUSDQuote(t *testing.T) {
	buy, err := market.NewOrderBook("alpha", "ETH/BTC", nil, []market.Level{lvl("0.05", "10")}, ts, nil)
	require.NoError(t, err)
	sell, err := market.NewOrderBook("beta", "ETH/BTC", []market.Level{lvl("0.052", "10")}, nil, ts, nil)
	require.NoError(t, err)
	req := Request{Size: d("1"), Unit: SizeBase}

	res := NewCalculator(Options{}).Calculate(buy, sell, req, flatRouteModel("1"))
	assert.Equal(t, ReasonNoTransferRoute, res.Reason)

	cost := flatRouteModel("1")
	cost.Transfers = append(cost.Transfers, NetworkFee{Venue: Wildcard, Asset: "ETH", Network: "ERC20", Flat: d("0.001")})
	res = NewCalculator(Options{}).Calculate(buy, sell, req, cost)
	require.NotEqual(t, StatusNotComputable, res.Status, "reason=%s", res.Reason)
	assert.Equal(t, "ERC20", res.Network)
	// 0.001 ETH at 0.05 BTC
	assert.True(t, res.TransferCost.Equal(d("0.00005")), "transfer=%s", res.TransferCost)
}

func TestCalculateMinNotional(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("102", "10")}, nil)

	cost := flatRouteModel("0")
	cost.Lots = map[string]LotRule{LotKey(Wildcard, "BTC/USDT"): {MinNotional: d("50")}}
	res := NewCalculator(Options{}).Calculate(buy, sell, Request{Size: d("0.4"), Unit: SizeBase}, cost)
	assert.Equal(t, ReasonBelowLotSize, res.Reason)
}

func TestCalculateNoTransferRoute(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("105", "10")}, nil)

	cost := CostModel{
		TakerFee: d("0.001"),
		Transfers: []NetworkFee{
			{Venue: "alpha", Asset: "BTC", Network: "ERC20", Flat: d("0.0001")},
			{Venue: "beta", Asset: "BTC", Network: "BTC", Flat: d("0.0002")},
		},
		PreferredNetwork: "TRC20",
	}
	res := NewCalculator(Options{}).Calculate(buy, sell, Request{Size: d("1"), Unit: SizeBase}, cost)
	assert.Equal(t, StatusNotComputable, res.Status)
	assert.Equal(t, ReasonNoTransferRoute, res.Reason)
	assert.True(t, res.TransferCost.IsZero())
}

func TestCalculateBelowMinTransfer(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("105", "10")}, nil)

	cost := CostModel{Transfers: []NetworkFee{{Venue: Wildcard, Asset: Wildcard, Network: "BTC", Min: d("2")}}}
	res := NewCalculator(Options{}).Calculate(buy, sell, Request{Size: d("1"), Unit: SizeBase}, cost)
	assert.Equal(t, ReasonBelowMinTransfer, res.Reason)
}

func TestCalculateClampsToMaxTransfer(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("105", "10")}, nil)

	cost := CostModel{Transfers: []NetworkFee{{Venue: Wildcard, Asset: Wildcard, Network: "BTC", Max: d("3")}}}
	res := NewCalculator(Options{MinDepthFraction: d("0.1")}).
		Calculate(buy, sell, Request{Size: d("8"), Unit: SizeBase}, cost)
	require.Equal(t, StatusProfitable, res.Status, "reason=%s", res.Reason)
	assert.True(t, res.Size.Equal(d("3")))
}

func TestCalculateQuoteSizeWalksAsks(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "1"), lvl("200", "10")})
	sell := book(t, "beta", []market.Level{lvl("300", "10")}, nil)

	// 100 buys the first level, the remaining 200 buys one unit at 200
	res := NewCalculator(Options{}).Calculate(buy, sell, Request{Size: d("300"), Unit: SizeQuote}, flatRouteModel("0"))
	require.NotEqual(t, StatusNotComputable, res.Status, "reason=%s", res.Reason)
	assert.True(t, res.Size.Equal(d("2")), "size=%s", res.Size)
	assert.True(t, res.BuyPrice.Equal(d("150")), "vwap=%s", res.BuyPrice)
	assert.True(t, res.Notional.Equal(d("300")))
}

func TestCalculateRejectsMalformedBook(t *testing.T) {
	good := book(t, "beta", []market.Level{lvl("101", "10")}, []market.Level{lvl("102", "10")})
	bad := market.OrderBook{
		Venue:  "alpha",
		Symbol: "BTC/USDT",
		Asks:   []market.Level{lvl("101", "1"), lvl("100", "1")},
	}
	res := NewCalculator(Options{}).Calculate(bad, good, Request{Size: d("1"), Unit: SizeBase}, flatRouteModel("0"))
	assert.Equal(t, StatusNotComputable, res.Status)
	assert.Equal(t, ReasonMalformedBook, res.Reason)

	negative := market.OrderBook{Venue: "alpha", Symbol: "BTC/USDT", Asks: []market.Level{lvl("-1", "1")}}
	res = NewCalculator(Options{}).Calculate(negative, good, Request{Size: d("1"), Unit: SizeBase}, flatRouteModel("0"))
	assert.Equal(t, ReasonMalformedBook, res.Reason)
}

func TestCalculateRejectsInvalidPairs(t *testing.T) {
	a := book(t, "alpha", []market.Level{lvl("99", "1")}, []market.Level{lvl("100", "1")})
	other, err := market.NewOrderBook("beta", "ETH/USDT", nil, []market.Level{lvl("1", "1")}, ts, nil)
	require.NoError(t, err)
	calc := NewCalculator(Options{})
	req := Request{Size: d("1"), Unit: SizeBase}

	assert.Equal(t, ReasonSameVenue, calc.Calculate(a, a, req, flatRouteModel("0")).Reason)
	assert.Equal(t, ReasonSymbolMismatch, calc.Calculate(a, other, req, flatRouteModel("0")).Reason)
	assert.Equal(t, ReasonInvalidRequest, calc.Calculate(a, other, Request{}, flatRouteModel("0")).Reason)
}

func TestCalculateIsIdempotent(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "2"), lvl("100.5", "3"), lvl("101", "5")})
	sell := book(t, "beta", []market.Level{lvl("103", "1"), lvl("102.5", "4"), lvl("102", "5")}, nil)
	calc := NewCalculator(Options{})
	req := Request{Size: d("450"), Unit: SizeQuote}

	first := calc.Calculate(buy, sell, req, flatRouteModel("1"))
	second := calc.Calculate(buy, sell, req, flatRouteModel("1"))
	assert.Equal(t, first, second)
}

func TestNetSpreadNonIncreasingWithSizeUnderProportionalCosts(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "2"), lvl("100.5", "3"), lvl("101", "5")})
	sell := book(t, "beta", []market.Level{lvl("104", "1"), lvl("103", "4"), lvl("102", "5")}, nil)
	cost := CostModel{
		TakerFee:  d("0.001"),
		Transfers: []NetworkFee{{Venue: Wildcard, Asset: Wildcard, Network: "TRC20", Pct: d("0.0005")}},
	}
	calc := NewCalculator(Options{})

	prev := decimal.Decimal{}
	for i, size := range []string{"0.5", "1", "2", "3.5", "5", "7", "9", "10"} {
		res := calc.Calculate(buy, sell, Request{Size: d(size), Unit: SizeBase}, cost)
		require.NotEqual(t, StatusNotComputable, res.Status, "size=%s reason=%s", size, res.Reason)
		if i > 0 {
			assert.True(t, res.NetSpreadPct.LessThanOrEqual(prev), "size=%s net=%s prev=%s", size, res.NetSpreadPct, prev)
		}
		prev = res.NetSpreadPct
	}
}

func TestFlatTransferFeeFavoursLargerSizes(t *testing.T) {
	buy := book(t, "alpha", nil, []market.Level{lvl("100", "10")})
	sell := book(t, "beta", []market.Level{lvl("101", "10")}, nil)
	calc := NewCalculator(Options{})

	want := map[string]string{"1": "-0.201", "2": "0.299", "5": "0.599", "10": "0.699"}
	prev := decimal.Decimal{}
	for i, size := range []string{"1", "2", "5", "10"} {
		res := calc.Calculate(buy, sell, Request{Size: d(size), Unit: SizeBase}, flatRouteModel("1"))
		require.NotEqual(t, StatusNotComputable, res.Status, "size=%s reason=%s", size, res.Reason)
		assert.True(t, res.NetSpreadPct.Equal(d(want[size])), "size=%s net=%s", size, res.NetSpreadPct)
		if i > 0 {
			assert.True(t, res.NetSpreadPct.GreaterThan(prev), "size=%s net=%s prev=%s", size, res.NetSpreadPct, prev)
		}
		prev = res.NetSpreadPct
	}
}
