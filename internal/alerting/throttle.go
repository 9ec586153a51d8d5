package alerting

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spread-scanner/internal/spread"
)

// Throttle selects which ranked opportunities deserve an alert: net spread at
// or above the threshold, at most one alert per route within the cooldown,
// and at most MaxPerCycle per cycle.
type Throttle struct {
	threshold   decimal.Decimal
	cooldown    time.Duration
	maxPerCycle int

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle constructs an empty throttle.
func NewThrottle(threshold decimal.Decimal, cooldown time.Duration, maxPerCycle int) *Throttle {
	return &Throttle{
		threshold:   threshold,
		cooldown:    cooldown,
		maxPerCycle: maxPerCycle,
		last:        make(map[string]time.Time),
	}
}

// Threshold returns the alerting threshold.
func (t *Throttle) Threshold() decimal.Decimal { return t.threshold }

// Seed restores last alert times, e.g. from storage after a restart.
func (t *Throttle) Seed(last map[string]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, at := range last {
		if prev, ok := t.last[k]; !ok || at.After(prev) {
			t.last[k] = at
		}
	}
}

// Select returns the opportunities to alert on, in ranked order, and marks
// them as alerted at now.
func (t *Throttle) Select(ranked []spread.Result, now time.Time) []spread.Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []spread.Result
	for _, r := range ranked {
		if t.maxPerCycle > 0 && len(out) >= t.maxPerCycle {
			break
		}
		if r.NetSpreadPct.LessThan(t.threshold) {
			continue
		}
		key := Key(r)
		if at, ok := t.last[key]; ok && now.Sub(at) < t.cooldown {
			continue
		}
		t.last[key] = now
		out = append(out, r)
	}
	return out
}

// Key identifies a symbol's buy/sell direction.
func Key(r spread.Result) string {
	return r.Symbol + "|" + r.BuyVenue + "|" + r.SellVenue
}
