// Package bus is the in-process event bus connecting the pipeline's
// components. Subscriptions filter by kind prefix, so "message." receives
// every message event and "" receives everything.
package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to prefix-filtered subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the event rather
// than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Subscribe registers interest in events whose kind starts with prefix and
// returns the receiving channel plus an unsubscribe function. bufSize is the
// channel buffer; size it for the subscriber's burst tolerance.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
