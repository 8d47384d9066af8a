package events

import (
	"sync"
)

// CallbackEvent is the callback-function counterpart of ChannelEvent.
// Callbacks run synchronously on the notifying goroutine, so they must not
// block; use ChannelEvent when the subscriber needs its own goroutine.
type CallbackEvent[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]func(T)
	nextID      uint64
	replayLast  bool
	last        *T
	hasFired    bool
}

// NewCallbackEvent creates a new CallbackEvent.
// replayLast behaves as documented on NewChannelEvent.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		subscribers: make(map[uint64]func(T)),
		replayLast:  replayLast,
	}
}

// Listen registers a callback invoked on every Notify.
// Returns an unregister function; calling it more than once is safe.
// With replayLast enabled the callback fires immediately with the last value
// if Notify has already fired.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subscribers[id] = callback
	var replay *T
	if e.replayLast && e.hasFired && e.last != nil {
		v := *e.last
		replay = &v
	}
	e.mu.Unlock()

	// Invoke outside the lock so the callback can re-enter this event.
	if replay != nil {
		callback(*replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// Notify invokes every registered callback with value.
// Thread-safe; callbacks run outside the internal lock.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		if e.last == nil {
			e.last = new(T)
		}
		*e.last = value
		e.hasFired = true
	}
	targets := make([]func(T), 0, len(e.subscribers))
	for _, cb := range e.subscribers {
		targets = append(targets, cb)
	}
	e.mu.Unlock()

	for _, cb := range targets {
		cb(value)
	}
}

// ListenerCount returns the number of registered subscribers.
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers)
}
