package events

import (
	"sync"
)

// ChannelEvent fans a value out to subscriber channels.
// T is the type of the value delivered to each subscriber.
// Sends are non-blocking: a subscriber whose channel is full misses that value,
// which is acceptable for state-snapshot style events where only the latest
// value matters (session state, metrics snapshots, reachability).
type ChannelEvent[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan<- T
	nextID      uint64
	replayLast  bool
	last        *T
	hasFired    bool
}

// NewChannelEvent creates a new ChannelEvent.
// replayLast: when true, a new subscriber immediately receives the most recent
// value passed to Notify (if Notify has fired at least once). Use this for
// events that carry current state rather than edge-triggered signals.
func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		subscribers: make(map[uint64]chan<- T),
		replayLast:  replayLast,
	}
}

// Listen registers a channel to receive values from Notify.
// Returns an unregister function; calling it more than once is safe.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = ch
	var replay *T
	if e.replayLast && e.hasFired && e.last != nil {
		v := *e.last
		replay = &v
	}
	e.mu.Unlock()

	// Deliver the replayed value outside the lock so a subscriber handling it
	// can call back into this event without deadlocking.
	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// Notify delivers value to every registered subscriber channel.
// Thread-safe. Full channels are skipped rather than blocked on.
func (e *ChannelEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		if e.last == nil {
			e.last = new(T)
		}
		*e.last = value
		e.hasFired = true
	}
	targets := make([]chan<- T, 0, len(e.subscribers))
	for _, ch := range e.subscribers {
		targets = append(targets, ch)
	}
	e.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount returns the number of registered subscribers.
func (e *ChannelEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}
