package universe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopBases is a static large-cap ranking used when no live source is
// configured or the live source fails.
var DefaultTopBases = []string{
	"BTC", "ETH", "BNB", "XRP", "SOL", "ADA", "DOGE", "TRX", "TON",
	"DOT", "MATIC", "AVAX", "SHIB", "LINK", "LTC", "BCH", "UNI",
	"XLM", "ATOM", "ETC", "APT", "ARB", "OP", "NEAR", "FIL", "INJ",
	"SUI", "TAO", "HBAR", "RNDR", "AAVE", "MKR", "ALGO", "FTM",
	"EGLD", "KAS", "XMR", "GRT", "BTT", "TIA", "JTO", "IMX", "SEI",
	"RUNE", "FLOW", "VET", "PEPE", "DYDX", "PYTH",
}

// PresetSource ranks base assets by market capitalisation.
type PresetSource interface {
	TopBases(ctx context.Context, n int) ([]string, error)
}

// StaticPreset serves DefaultTopBases.
type StaticPreset struct{}

func (StaticPreset) TopBases(_ context.Context, n int) ([]string, error) {
	if n > len(DefaultTopBases) || n <= 0 {
		n = len(DefaultTopBases)
	}
	return append([]string(nil), DefaultTopBases[:n]...), nil
}

// ParsePreset extracts N from TOP<N> or CMC_TOP<N>. ok is false for an empty
// or NONE preset.
func ParsePreset(preset string) (n int, ok bool, err error) {
	p := strings.ToUpper(strings.TrimSpace(preset))
	if p == "" || p == "NONE" {
		return 0, false, nil
	}
	p = strings.TrimPrefix(p, "CMC_")
	if !strings.HasPrefix(p, "TOP") {
		return 0, false, fmt.Errorf("unknown preset %q: want TOP<N>, CMC_TOP<N> or NONE", preset)
	}
	n, err = strconv.Atoi(strings.TrimPrefix(p, "TOP"))
	if err != nil || n <= 0 {
		return 0, false, fmt.Errorf("invalid preset size in %q", preset)
	}
	return n, true, nil
}

var _ PresetSource = StaticPreset{}
