package events

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// LocalBus fans events out to in-process subscribers. A subscriber that
// falls behind misses events rather than blocking publishers.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	buffer int
	closed bool
}

type subscription struct {
	ch       chan Event
	resource string
}

// NewLocalBus creates a bus whose subscriber channels hold buffer events.
func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &LocalBus{subs: make(map[int]*subscription), buffer: buffer}
}

// Subscribe returns a channel of events for resource ("" for all) and a
// function that cancels the subscription and closes the channel.
func (b *LocalBus) Subscribe(resource string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{ch: make(chan Event, b.buffer), resource: resource}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
}

// Close ends every subscription. Later subscriptions receive a closed channel.
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *LocalBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *LocalBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.resource != "" && sub.resource != e.Resource {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
	return nil
}
