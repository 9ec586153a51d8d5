package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// stables lists assets treated as stable for stable/stable pair exclusion.
var stables = map[string]struct{}{
	"USDT": {}, "USDC": {}, "BUSD": {}, "TUSD": {}, "FDUSD": {}, "DAI": {},
}

// IsStable reports whether asset is a known stablecoin.
func IsStable(asset string) bool {
	_, ok := stables[strings.ToUpper(asset)]
	return ok
}

// Symbol is a canonical BASE/QUOTE trading pair.
type Symbol struct {
	Base  string
	Quote string
}

// ParseSymbol accepts BASE/QUOTE, BASE-QUOTE or BASE_QUOTE in any case.
func ParseSymbol(s string) (Symbol, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(s))
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(cleaned, sep); ok {
			if base == "" || quote == "" || strings.ContainsAny(quote, "/-_") {
				break
			}
			return Symbol{Base: base, Quote: quote}, nil
		}
	}
	return Symbol{}, fmt.Errorf("invalid symbol %q: want BASE/QUOTE", s)
}

// MustSymbol parses s and panics on error. Intended for literals.
func MustSymbol(s string) Symbol {
	sym, err := ParseSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

func (s Symbol) String() string {
	return s.Base + "/" + s.Quote
}

// IsStablePair reports whether both legs are stablecoins.
func (s Symbol) IsStablePair() bool {
	return IsStable(s.Base) && IsStable(s.Quote)
}

// Instrument is a symbol listed on a venue with its trading constraints.
// Zero constraint values mean "not declared".
type Instrument struct {
	Symbol      Symbol
	LotStep     decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	// QuoteVolume is the 24h traded volume in quote currency, zero when the
	// venue does not report it.
	QuoteVolume decimal.Decimal
}

// Listing is the set of instruments a venue lists, keyed by canonical symbol.
type Listing map[string]Instrument

// Add inserts an instrument under its canonical key.
func (l Listing) Add(inst Instrument) {
	l[inst.Symbol.String()] = inst
}

// Has reports whether the symbol is listed.
func (l Listing) Has(symbol string) bool {
	_, ok := l[symbol]
	return ok
}
