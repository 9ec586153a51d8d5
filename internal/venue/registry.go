package venue

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Spec describes one configured venue instance.
type Spec struct {
	Name string
	// Family selects the implementation; empty uses Name.
	Family  string
	Options Options

	// p2p
	Assets   []string
	Fiats    []string
	PayTypes []string

	// mock
	Symbols     []string
	Mid         decimal.Decimal
	Shift       decimal.Decimal
	Latency     time.Duration
	QuoteVolume decimal.Decimal
}

// Venue families.
const (
	FamilyBinance = "binance"
	FamilyOKX     = "okx"
	FamilyGate    = "gate"
	FamilyBybit   = "bybit"
	FamilyP2P     = "p2p"
	FamilyMock    = "mock"
)

// New builds the client for spec.
func New(spec Spec, logger zerolog.Logger) (Client, error) {
	family := strings.ToLower(strings.TrimSpace(spec.Family))
	if family == "" {
		family = strings.ToLower(spec.Name)
		if strings.HasPrefix(family, FamilyMock) {
			family = FamilyMock
		}
	}
	var c interface {
		Client
		rename(string)
	}
	switch family {
	case FamilyBinance:
		c = NewBinance(spec.Options, logger)
	case FamilyOKX:
		c = NewOKX(spec.Options, logger)
	case FamilyGate:
		c = NewGate(spec.Options, logger)
	case FamilyBybit:
		c = NewBybit(spec.Options, logger)
	case FamilyP2P:
		c = NewP2P(P2POptions{Options: spec.Options, Assets: spec.Assets, Fiats: spec.Fiats, PayTypes: spec.PayTypes}, logger)
	case FamilyMock:
		m, err := NewMock(MockOptions{
			Name:        spec.Name,
			Symbols:     spec.Symbols,
			Mid:         spec.Mid,
			Shift:       spec.Shift,
			Fees:        spec.Options.Fees,
			Latency:     spec.Latency,
			QuoteVolume: spec.QuoteVolume,
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown venue family %q for %q", family, spec.Name)
	}
	if spec.Name != "" {
		c.rename(spec.Name)
	}
	return c, nil
}

// NewSet builds clients keyed by venue name. Names must be unique.
func NewSet(specs []Spec, logger zerolog.Logger) (map[string]Client, error) {
	clients := make(map[string]Client, len(specs))
	for _, spec := range specs {
		c, err := New(spec, logger)
		if err != nil {
			return nil, err
		}
		if _, dup := clients[c.Name()]; dup {
			return nil, fmt.Errorf("duplicate venue %q", c.Name())
		}
		clients[c.Name()] = c
	}
	return clients, nil
}
