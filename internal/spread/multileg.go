package spread

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/market"
)

// Step is one leg of a multi-leg path. Apply converts the amount held before
// the leg into the amount held after it.
type Step interface {
	Name() string
	Apply(amount decimal.Decimal) (decimal.Decimal, error)
}

// ErrPathDepth is returned when a conversion leg runs out of book.
var ErrPathDepth = errors.New("insufficient depth for leg")

// Side selects which side of a book a conversion consumes.
type Side string

const (
	// SideBuy spends quote currency against the asks.
	SideBuy Side = "buy"
	// SideSell sells base units into the bids.
	SideSell Side = "sell"
)

// ConvertStep trades against an order book (spot or P2P) paying a taker fee.
type ConvertStep struct {
	Book market.OrderBook
	Side Side
	Fee  decimal.Decimal
}

func (s ConvertStep) Name() string {
	return fmt.Sprintf("%s %s on %s", s.Side, s.Book.Symbol, s.Book.Venue)
}

func (s ConvertStep) Apply(amount decimal.Decimal) (decimal.Decimal, error) {
	keep := decimal.NewFromInt(1).Sub(s.Fee)
	if s.Side == SideBuy {
		if len(s.Book.Asks) == 0 {
			return decimal.Zero, ErrPathDepth
		}
		qty := requestedQty(s.Book.Asks, Request{Size: amount, Unit: SizeQuote})
		if qty.GreaterThan(s.Book.AskDepth()) {
			return decimal.Zero, ErrPathDepth
		}
		return qty.Mul(keep), nil
	}
	if amount.GreaterThan(s.Book.BidDepth()) || len(s.Book.Bids) == 0 {
		return decimal.Zero, ErrPathDepth
	}
	return amount.Mul(vwap(s.Book.Bids, amount)).Mul(keep), nil
}

// TransferStep moves the held asset between venues.
type TransferStep struct {
	Network string
	Flat    decimal.Decimal
	Pct     decimal.Decimal
}

func (s TransferStep) Name() string {
	return "transfer via " + s.Network
}

func (s TransferStep) Apply(amount decimal.Decimal) (decimal.Decimal, error) {
	out := amount.Sub(s.Flat).Sub(amount.Mul(s.Pct))
	if !out.IsPositive() {
		return decimal.Zero, fmt.Errorf("transfer via %s consumes the whole amount", s.Network)
	}
	return out, nil
}

// Path chains steps such as P2P buy, spot conversion, transfer and sell.
// It is evaluated on its own and does not feed the ranker.
type Path []Step

// PathResult records the amount after each step and the overall return.
type PathResult struct {
	Start   decimal.Decimal
	End     decimal.Decimal
	Amounts []decimal.Decimal
	ROIPct  decimal.Decimal
}

// Evaluate runs start through every step. Start and End must share a unit
// (e.g. fiat in, fiat out) for ROIPct to be meaningful.
func (p Path) Evaluate(start decimal.Decimal) (PathResult, error) {
	if !start.IsPositive() {
		return PathResult{}, errors.New("start amount must be positive")
	}
	res := PathResult{Start: start, Amounts: make([]decimal.Decimal, 0, len(p))}
	amount := start
	for _, step := range p {
		next, err := step.Apply(amount)
		if err != nil {
			return PathResult{}, fmt.Errorf("%s: %w", step.Name(), err)
		}
		amount = next
		res.Amounts = append(res.Amounts, amount)
	}
	res.End = amount
	res.ROIPct = amount.Sub(start).Div(start).Mul(hundred).Round(pctPlaces)
	return res, nil
}
