package scanner

import "sync"

// History keeps the most recent cycle results, newest last.
type History struct {
	mu     sync.RWMutex
	size   int
	cycles []CycleResult
}

// NewHistory keeps up to size cycles; size below one keeps one.
func NewHistory(size int) *History {
	return &History{size: max(size, 1)}
}

func (h *History) Add(res CycleResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cycles = append(h.cycles, res)
	if over := len(h.cycles) - h.size; over > 0 {
		h.cycles = append(h.cycles[:0:0], h.cycles[over:]...)
	}
}

// Latest returns the newest cycle.
func (h *History) Latest() (CycleResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.cycles) == 0 {
		return CycleResult{}, false
	}
	return h.cycles[len(h.cycles)-1], true
}

// All returns a copy of the retained cycles, oldest first.
func (h *History) All() []CycleResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]CycleResult(nil), h.cycles...)
}
