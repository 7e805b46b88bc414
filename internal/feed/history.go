package feed

import (
	"sync"

	"notary.mini/notary/internal/types"
)

// history keeps the most recent events so late subscribers can catch up.
type history struct {
	mu      sync.RWMutex
	events  []types.Event
	maxSize int
}

func newHistory(maxSize int) *history {
	return &history{
		events:  make([]types.Event, 0, maxSize),
		maxSize: maxSize,
	}
}

func (h *history) add(ev types.Event) {
	if h.maxSize <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, ev)
	if len(h.events) > h.maxSize {
		h.events = h.events[len(h.events)-h.maxSize:]
	}
}

// recent returns up to n of the latest events, oldest first.
func (h *history) recent(n int) []types.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.events) {
		n = len(h.events)
	}
	if n <= 0 {
		return nil
	}
	out := make([]types.Event, n)
	copy(out, h.events[len(h.events)-n:])
	return out
}
