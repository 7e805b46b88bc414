// Package feed publishes ledger events to external indexers over websocket
// and server-sent events.
package feed

import (
	"sync"

	"notary.mini/notary/internal/types"
)

// Broker fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan types.Event]struct{}
	buffer  int
	history *history
}

// NewBroker creates a broker whose subscribers buffer up to buffer events.
// The broker also retains the last buffer events for replay.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		clients: make(map[chan types.Event]struct{}),
		buffer:  buffer,
		history: newHistory(buffer),
	}
}

// Subscribe registers a new subscriber. The returned cancel func
// unregisters it and closes the channel.
func (b *Broker) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, b.buffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.clients, ch)
			close(ch)
		})
	}
}

// Publish implements notary.EventSink.
func (b *Broker) Publish(ev types.Event) {
	b.history.add(ev)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- ev:
		default:
			// slow subscriber, skip
		}
	}
}

// Recent returns up to n of the latest published events, oldest first.
func (b *Broker) Recent(n int) []types.Event {
	return b.history.recent(n)
}

// Subscribers returns the number of registered subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
