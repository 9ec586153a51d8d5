package market

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func lvl(price, size string) Level {
	return Level{Price: decimal.RequireFromString(price), Size: decimal.RequireFromString(size)}
}

func TestNewOrderBookValid(t *testing.T) {
	bids := []Level{lvl("101", "1"), lvl("100", "2")}
	asks := []Level{lvl("102", "1"), lvl("103", "4")}
	book, err := NewOrderBook("okx", "BTC/USDT", bids, asks, time.Now(), nil)
	if err != nil {
		t.Fatalf("valid book rejected: %v", err)
	}
	bids[0] = lvl("1", "1")
	if !book.Bids[0].Price.Equal(decimal.NewFromInt(101)) {
		t.Fatal("book must not alias caller slices")
	}
	if !book.AskDepth().Equal(decimal.NewFromInt(5)) {
		t.Fatalf("ask depth = %s", book.AskDepth())
	}
	best, ok := book.BestBid()
	if !ok || !best.Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("best bid = %v", best)
	}
}

func TestNewOrderBookRejectsMalformed(t *testing.T) {
	cases := map[string]struct {
		bids, asks []Level
	}{
		"bids ascending":  {bids: []Level{lvl("100", "1"), lvl("101", "1")}},
		"asks descending": {asks: []Level{lvl("103", "1"), lvl("102", "1")}},
		"duplicate price": {asks: []Level{lvl("102", "1"), lvl("102", "1")}},
		"zero size":       {bids: []Level{lvl("100", "0")}},
		"negative price":  {asks: []Level{lvl("-1", "1")}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewOrderBook("gate", "ETH/USDT", tc.bids, tc.asks, time.Now(), nil)
			if !errors.Is(err, ErrMalformedBook) {
				t.Fatalf("expected ErrMalformedBook, got %v", err)
			}
		})
	}
}

func TestParseLevelsSkipsZeroSize(t *testing.T) {
	levels, err := ParseLevels([][]string{{"10.5", "2"}, {"10.4", "0"}, {"10.3", "1", "ignored"}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if _, err := ParseLevels([][]string{{"x", "1"}}); err == nil {
		t.Fatal("bad price must fail")
	}
}

func TestParseSymbol(t *testing.T) {
	for _, in := range []string{"BTC/USDT", "btc-usdt", "BTC_USDT", " btc/usdt "} {
		sym, err := ParseSymbol(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if sym.String() != "BTC/USDT" {
			t.Fatalf("%q -> %s", in, sym)
		}
	}
	for _, in := range []string{"BTCUSDT", "/USDT", "BTC/"} {
		if _, err := ParseSymbol(in); err == nil {
			t.Fatalf("%q should fail", in)
		}
	}
	if !MustSymbol("USDC/USDT").IsStablePair() {
		t.Fatal("USDC/USDT is a stable pair")
	}
}
