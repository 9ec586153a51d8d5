package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/spread"
	"spread-scanner/internal/universe"
)

// ConfigError is a configuration problem detected at cycle start. It fails
// that cycle only.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "scan config: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is everything one scan cycle depends on besides the listing cache.
type Config struct {
	Universe    universe.Request
	Size        spread.Request
	Depth       int
	Workers     int
	ItemTimeout time.Duration

	MinDepthFraction decimal.Decimal
	MinNetSpreadPct  decimal.Decimal
	TopN             int
	// PerSymbol keeps only the best venue pair per symbol when ranking.
	PerSymbol bool
	// EnforceLots adds venue-declared lot steps and minimums to the cost model.
	EnforceLots bool
	Cost        spread.CostModel
}

var one = decimal.NewFromInt(1)

// Validate checks the plain values. Universe emptiness is detected later,
// during resolution.
func (c Config) Validate() error {
	var errs []error
	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.ItemTimeout <= 0 {
		errs = append(errs, errors.New("item timeout must be positive"))
	}
	if c.Depth <= 0 {
		errs = append(errs, errors.New("depth must be positive"))
	}
	if !c.Size.Size.IsPositive() {
		errs = append(errs, errors.New("size must be positive"))
	}
	if c.Size.Unit != spread.SizeQuote && c.Size.Unit != spread.SizeBase {
		errs = append(errs, fmt.Errorf("size unit %q must be quote or base", c.Size.Unit))
	}
	if c.TopN < 0 {
		errs = append(errs, errors.New("top-n must not be negative"))
	}
	if !c.MinDepthFraction.IsPositive() || c.MinDepthFraction.GreaterThan(one) {
		errs = append(errs, errors.New("min depth fraction must be within (0, 1]"))
	}
	if c.Universe.MinQuoteVolume.IsNegative() {
		errs = append(errs, errors.New("min quote volume must not be negative"))
	}
	if len(c.Universe.Venues) == 0 {
		errs = append(errs, errors.New("venue list is empty"))
	}
	if !validRate(c.Cost.MakerFee) || !validRate(c.Cost.TakerFee) {
		errs = append(errs, errors.New("maker and taker fees must be within [0, 1)"))
	}
	for venue, fees := range c.Cost.VenueFees {
		if !validRate(fees.Maker) || !validRate(fees.Taker) {
			errs = append(errs, fmt.Errorf("fees for %s must be within [0, 1)", venue))
		}
	}
	if _, _, err := universe.ParsePreset(c.Universe.Preset); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}

func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThan(one)
}
