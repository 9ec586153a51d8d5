package spread

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

// Status classifies a computed spread.
type Status string

const (
	StatusProfitable     Status = "profitable"
	StatusBelowThreshold Status = "below_threshold"
	StatusNotComputable  Status = "not_computable"
)

// Reason explains a not-computable result.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidRequest    Reason = "invalid_request"
	ReasonMalformedBook     Reason = "malformed_book"
	ReasonSymbolMismatch    Reason = "symbol_mismatch"
	ReasonSameVenue         Reason = "same_venue"
	ReasonInsufficientDepth Reason = "insufficient_depth"
	ReasonBelowLotSize      Reason = "below_lot_size"
	ReasonNoTransferRoute   Reason = "no_transfer_route"
	ReasonBelowMinTransfer  Reason = "below_min_transfer"
)

// SizeUnit selects how Request.Size is denominated.
type SizeUnit string

const (
	SizeQuote SizeUnit = "quote"
	SizeBase  SizeUnit = "base"
)

// Request is the requested trade size.
type Request struct {
	Size decimal.Decimal
	Unit SizeUnit
}

// Options tune the calculator.
type Options struct {
	// MinDepthFraction is the fraction of the requested size both books must cover.
	MinDepthFraction decimal.Decimal
	// MinNetSpreadPct separates profitable results from below-threshold ones.
	MinNetSpreadPct decimal.Decimal
}

// Result is an immutable spread evaluation for one buy/sell venue pair.
type Result struct {
	Symbol         string
	BuyVenue       string
	SellVenue      string
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	Size           decimal.Decimal
	Notional       decimal.Decimal
	GrossSpreadPct decimal.Decimal
	NetSpreadPct   decimal.Decimal
	TradingFees    decimal.Decimal
	TransferCost   decimal.Decimal
	Network        string
	Status         Status
	Reason         Reason
	Timestamp      time.Time
}

// Profitable reports whether the result cleared the threshold.
func (r Result) Profitable() bool {
	return r.Status == StatusProfitable
}

const pctPlaces = 6

var hundred = decimal.NewFromInt(100)

// Calculator evaluates fee- and transfer-adjusted spreads. It holds no
// mutable state and is safe for concurrent use.
type Calculator struct {
	opts Options
}

// NewCalculator builds a calculator. An unset (zero) MinDepthFraction
// requires full depth; callers validate the configured value to (0, 1].
func NewCalculator(opts Options) *Calculator {
	if opts.MinDepthFraction.IsZero() {
		opts.MinDepthFraction = decimal.NewFromInt(1)
	}
	return &Calculator{opts: opts}
}

// Calculate buys on buy's asks, transfers the base asset, and sells into
// sell's bids. It is a pure function of its inputs.
func (c *Calculator) Calculate(buy, sell market.OrderBook, req Request, cost CostModel) Result {
	res := Result{
		Symbol:    buy.Symbol,
		BuyVenue:  buy.Venue,
		SellVenue: sell.Venue,
		Timestamp: latest(buy.Timestamp, sell.Timestamp),
	}

	if !req.Size.IsPositive() {
		return notComputable(res, ReasonInvalidRequest)
	}
	if buy.Validate() != nil || sell.Validate() != nil {
		return notComputable(res, ReasonMalformedBook)
	}
	if buy.Symbol != sell.Symbol {
		return notComputable(res, ReasonSymbolMismatch)
	}
	if buy.Venue == sell.Venue {
		return notComputable(res, ReasonSameVenue)
	}
	if len(buy.Asks) == 0 || len(sell.Bids) == 0 {
		return notComputable(res, ReasonInsufficientDepth)
	}

	requested := requestedQty(buy.Asks, req)
	fill := decimal.Min(requested, buy.AskDepth(), sell.BidDepth())
	if fill.LessThan(requested.Mul(c.opts.MinDepthFraction)) {
		res.Size = fill
		return notComputable(res, ReasonInsufficientDepth)
	}

	asset, quote := splitSymbol(buy.Symbol)
	topAsk := buy.Asks[0].Price
	route, ok := cost.ForQuote(quote).ResolveRoute(buy.Venue, sell.Venue, asset, fill, topAsk)
	if !ok {
		return notComputable(res, ReasonNoTransferRoute)
	}
	res.Network = route.Network
	if route.Fee.Max.IsPositive() && fill.GreaterThan(route.Fee.Max) {
		fill = route.Fee.Max
	}

	buyLot := cost.LotFor(buy.Venue, buy.Symbol)
	sellLot := cost.LotFor(sell.Venue, sell.Symbol)
	fill = roundDown(fill, commonStep(buyLot.Step, sellLot.Step))
	res.Size = fill
	if !fill.IsPositive() || fill.LessThan(buyLot.MinQty) || fill.LessThan(sellLot.MinQty) {
		return notComputable(res, ReasonBelowLotSize)
	}
	if route.Fee.Min.IsPositive() && fill.LessThan(route.Fee.Min) {
		return notComputable(res, ReasonBelowMinTransfer)
	}

	buyPrice := vwap(buy.Asks, fill)
	sellPrice := vwap(sell.Bids, fill)
	notional := fill.Mul(buyPrice)
	if notional.LessThan(buyLot.MinNotional) || fill.Mul(sellPrice).LessThan(sellLot.MinNotional) {
		return notComputable(res, ReasonBelowLotSize)
	}

	buyFee := cost.TakerFor(buy.Venue, buy.Fees)
	sellFee := cost.TakerFor(sell.Venue, sell.Fees)
	spent := notional.Mul(decimal.NewFromInt(1).Add(buyFee))
	proceeds := fill.Mul(sellPrice).Mul(decimal.NewFromInt(1).Sub(sellFee))
	transfer := route.Fee.Cost(fill, buyPrice)

	res.BuyPrice = buyPrice
	res.SellPrice = sellPrice
	res.Notional = notional
	res.TradingFees = spent.Sub(notional).Add(fill.Mul(sellPrice).Sub(proceeds))
	res.TransferCost = transfer
	res.GrossSpreadPct = sellPrice.Sub(buyPrice).Div(buyPrice).Mul(hundred).Round(pctPlaces)
	res.NetSpreadPct = proceeds.Sub(spent).Sub(transfer).Div(notional).Mul(hundred).Round(pctPlaces)

	if res.NetSpreadPct.IsPositive() && res.NetSpreadPct.GreaterThanOrEqual(c.opts.MinNetSpreadPct) {
		res.Status = StatusProfitable
	} else {
		res.Status = StatusBelowThreshold
	}
	return res
}

func notComputable(res Result, reason Reason) Result {
	res.Status = StatusNotComputable
	res.Reason = reason
	return res
}

// requestedQty converts the request into base units. Quote requests walk the
// asks; notional beyond the book is priced at the deepest ask.
func requestedQty(asks []market.Level, req Request) decimal.Decimal {
	if req.Unit == SizeBase {
		return req.Size
	}
	remaining := req.Size
	qty := decimal.Zero
	for _, lvl := range asks {
		levelCost := lvl.Price.Mul(lvl.Size)
		if levelCost.GreaterThanOrEqual(remaining) {
			return qty.Add(remaining.Div(lvl.Price))
		}
		qty = qty.Add(lvl.Size)
		remaining = remaining.Sub(levelCost)
	}
	return qty.Add(remaining.Div(asks[len(asks)-1].Price))
}

// vwap is the volume-weighted price of taking qty from levels. Callers
// guarantee the levels hold at least qty.
func vwap(levels []market.Level, qty decimal.Decimal) decimal.Decimal {
	remaining := qty
	total := decimal.Zero
	for _, lvl := range levels {
		take := decimal.Min(lvl.Size, remaining)
		total = total.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
		if !remaining.IsPositive() {
			break
		}
	}
	return total.Div(qty)
}

func roundDown(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// commonStep is the smallest size that is a whole multiple of both steps.
func commonStep(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsPositive() {
		return b
	}
	if !b.IsPositive() {
		return a
	}
	exp := min(a.Exponent(), b.Exponent())
	ai := a.Shift(-exp).BigInt()
	bi := b.Shift(-exp).BigInt()
	gcd := new(big.Int).GCD(nil, nil, ai, bi)
	lcm := new(big.Int).Mul(ai, bi)
	lcm.Div(lcm, gcd)
	return decimal.NewFromBigInt(lcm, exp)
}

func splitSymbol(symbol string) (base, quote string) {
	base, quote, _ = strings.Cut(symbol, "/")
	return base, quote
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
