// Package events implements the in-process session lifecycle event bus: a
// typed publish/subscribe channel consumed by monitoring and logging.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Kind enumerates the lifecycle event kinds carried by the bus.
type Kind string

const (
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindError      Kind = "error"
	KindInvoke     Kind = "invoke"
	KindFloodWait  Kind = "flood_wait"
)

// Event is one lifecycle transition, timestamped and tagged with the session
// and, where known, the owner.
type Event struct {
	Kind      Kind          `json:"kind"`
	SessionID string        `json:"session_id"`
	OwnerID   string        `json:"owner_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Seconds   int           `json:"seconds,omitempty"` // flood-wait duration
	Duration  time.Duration `json:"duration,omitempty"`
	At        time.Time     `json:"at"`
}

const subscriberBuffer = 64

// Bus fans lifecycle events out to subscribers. Publishing never blocks:
// a subscriber that falls behind its buffer loses events, which is
// acceptable for monitoring consumers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Uint64
	logger  zerolog.Logger
}

// NewBus creates an event bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. Any number of concurrent subscribers is supported.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish fans the event out to every subscriber without blocking.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			b.logger.Debug().
				Str("kind", string(event.Kind)).
				Str("session_id", event.SessionID).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
