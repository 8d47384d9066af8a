package companion

import (
	"context"
	"errors"
	"time"
)

// Outcome is the single result branch of a timeout-bounded transport call.
type Outcome int

const (
	OutcomeReply Outcome = iota + 1
	OutcomeTimedOut
	OutcomeError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReply:
		return "reply"
	case OutcomeTimedOut:
		return "timeout"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the exactly-one outcome of a SendRequest call.
// Reply is set only for OutcomeReply, Err only for OutcomeError.
type Result struct {
	Outcome Outcome
	Reply   Message
	Err     error
}

// Transport failure reasons. All are recoverable; callers back off and retry
// on the next scheduled cycle rather than treating any of these as fatal.
var (
	ErrNotActivated = errors.New("companion channel not activated")
	ErrNotPaired    = errors.New("companion device not paired")
	ErrNotReachable = errors.New("companion device not reachable")
	ErrSendFailed   = errors.New("companion send failed")
)

// Incoming is a message delivered by the peer. Reply answers a request; the
// transport discards all but the first reply for a given request. Reply is
// nil for context pushes.
type Incoming struct {
	Msg   Message
	Reply func(Message)
}

// Transport abstracts the store-and-forward message channel between the two
// devices. It carries no workout semantics; its only side effects are
// communication.
type Transport interface {
	// SendRequest sends msg and waits for a reply, a timeout, an error, or
	// cancellation via ctx. Exactly one outcome is returned per call.
	// It may block its calling goroutine up to timeout; it must never be
	// called from the session's serialization goroutine.
	SendRequest(ctx context.Context, msg Message, timeout time.Duration) Result

	// PushContext sends msg best-effort with no reply. A later push may
	// silently supersede an earlier one the peer has not picked up yet.
	PushContext(msg Message) error

	// Reachable reports whether the peer is currently reachable.
	Reachable() bool

	// ListenToReachability registers a channel for reachability changes.
	// Returns an unregister function.
	ListenToReachability(ch chan<- bool) func()

	// ListenToRequests registers a channel for incoming peer requests.
	// Returns an unregister function.
	ListenToRequests(ch chan<- Incoming) func()

	// ListenToContext registers a channel for incoming context pushes.
	// Returns an unregister function.
	ListenToContext(ch chan<- Message) func()

	// Shutdown tears the channel down. Safe to call multiple times.
	Shutdown()
}
