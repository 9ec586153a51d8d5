package scanner

import (
	"sync"

	"github.com/rs/zerolog"
)

// Breaker skips a venue for Cooldown cycles after Threshold consecutive
// failed fetches with no success in between. A zero threshold disables it.
type Breaker struct {
	threshold int
	cooldown  int
	logger    zerolog.Logger

	mu    sync.Mutex
	state map[string]*breakerState
}

type breakerState struct {
	consecutive int
	skipLeft    int
}

// NewBreaker constructs a breaker.
func NewBreaker(threshold, cooldown int, logger zerolog.Logger) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger.With().Str("component", "breaker").Logger(),
		state:     make(map[string]*breakerState),
	}
}

// Skip is consulted once per venue at cycle start. It reports whether the
// venue sits out this cycle and consumes one cycle of its cooldown.
func (b *Breaker) Skip(venue string) bool {
	if b == nil || b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[venue]
	if !ok || st.skipLeft == 0 {
		return false
	}
	st.skipLeft--
	return true
}

// Record feeds one cycle's fetch outcomes for venue.
func (b *Breaker) Record(venue string, succeeded, failed int) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[venue]
	if !ok {
		st = &breakerState{}
		b.state[venue] = st
	}
	if succeeded > 0 {
		st.consecutive = 0
		return
	}
	st.consecutive += failed
	if st.consecutive >= b.threshold {
		st.consecutive = 0
		st.skipLeft = b.cooldown
		b.logger.Warn().Str("venue", venue).Int("cycles", b.cooldown).Msg("venue tripped, skipping")
	}
}

// Open lists venues currently cooling down.
func (b *Breaker) Open() []string {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for venue, st := range b.state {
		if st.skipLeft > 0 {
			out = append(out, venue)
		}
	}
	return out
}
