package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMalformedBook marks an order book that violates level ordering or positivity.
var ErrMalformedBook = errors.New("malformed order book")

// Level is one aggregated price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// FeeSchedule is the trading fee schedule a venue declares alongside its book.
type FeeSchedule struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}

// OrderBook is a normalised, immutable order-book snapshot for one venue and symbol.
// Bids are strictly descending by price, asks strictly ascending.
type OrderBook struct {
	Venue     string
	Symbol    string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
	Fees      *FeeSchedule
}

// NewOrderBook copies the supplied levels and validates the result.
func NewOrderBook(venue, symbol string, bids, asks []Level, ts time.Time, fees *FeeSchedule) (OrderBook, error) {
	book := OrderBook{
		Venue:     venue,
		Symbol:    symbol,
		Bids:      append([]Level(nil), bids...),
		Asks:      append([]Level(nil), asks...),
		Timestamp: ts.UTC(),
	}
	if fees != nil {
		copied := *fees
		book.Fees = &copied
	}
	if err := book.Validate(); err != nil {
		return OrderBook{}, err
	}
	return book, nil
}

// Validate checks level ordering and positivity.
func (b OrderBook) Validate() error {
	if b.Venue == "" || b.Symbol == "" {
		return fmt.Errorf("%w: venue and symbol required", ErrMalformedBook)
	}
	if err := checkSide(b.Bids, -1); err != nil {
		return fmt.Errorf("%w: %s %s bids: %v", ErrMalformedBook, b.Venue, b.Symbol, err)
	}
	if err := checkSide(b.Asks, 1); err != nil {
		return fmt.Errorf("%w: %s %s asks: %v", ErrMalformedBook, b.Venue, b.Symbol, err)
	}
	return nil
}

// checkSide verifies positivity and strict ordering; dir is +1 for ascending, -1 for descending.
func checkSide(levels []Level, dir int) error {
	for i, lvl := range levels {
		if !lvl.Price.IsPositive() {
			return fmt.Errorf("level %d price %s not positive", i, lvl.Price)
		}
		if !lvl.Size.IsPositive() {
			return fmt.Errorf("level %d size %s not positive", i, lvl.Size)
		}
		if i == 0 {
			continue
		}
		if lvl.Price.Cmp(levels[i-1].Price) != dir {
			return fmt.Errorf("level %d price %s out of order", i, lvl.Price)
		}
	}
	return nil
}

// BestBid returns the highest bid.
func (b OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask.
func (b OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// BidDepth sums the size available on the bid side.
func (b OrderBook) BidDepth() decimal.Decimal {
	return sumSize(b.Bids)
}

// AskDepth sums the size available on the ask side.
func (b OrderBook) AskDepth() decimal.Decimal {
	return sumSize(b.Asks)
}

func sumSize(levels []Level) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Size)
	}
	return total
}

// ParseLevels converts venue [price, size, ...] string tuples into levels.
// Zero-size entries are dropped; extra tuple fields are ignored.
func ParseLevels(raw [][]string) ([]Level, error) {
	levels := make([]Level, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level %d: expected price and size", i)
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		size, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, fmt.Errorf("level %d size: %w", i, err)
		}
		if size.IsZero() {
			continue
		}
		levels = append(levels, Level{Price: price, Size: size})
	}
	return levels, nil
}
