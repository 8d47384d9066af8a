package session

import (
	"log"
	"time"
)

// Heartbeat skip reasons, used as metric labels and log text.
const (
	skipNotStarted  = "not_started"
	skipInFlight    = "in_flight"
	skipBackoff     = "backoff"
	skipUnreachable = "unreachable"
)

// HeartbeatParams tunes the status push scheduler.
type HeartbeatParams struct {
	Period  time.Duration
	Timeout time.Duration
	// Backoff is the minimum wait after a failed push before trying again.
	Backoff time.Duration
}

// Heartbeat throttles the periodic state+metrics push to the companion.
// It only decides whether a push should happen; the manager performs the
// send on a worker goroutine and reports the outcome back.
type Heartbeat struct {
	logger *log.Logger
	params HeartbeatParams
	now    func() time.Time

	inFlight    bool
	lastErrorAt time.Time
}

// NewHeartbeat creates a Heartbeat scheduler.
func NewHeartbeat(logger *log.Logger, params HeartbeatParams, now func() time.Time) *Heartbeat {
	if logger == nil {
		panic("Heartbeat: logger cannot be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Heartbeat{logger: logger, params: params, now: now}
}

// ShouldSend reports whether a push should fire now, and the skip reason when
// it should not.
func (h *Heartbeat) ShouldSend(state State, reachable bool) (bool, string) {
	if state == StateNotStarted {
		return false, skipNotStarted
	}
	if h.inFlight {
		return false, skipInFlight
	}
	if !h.lastErrorAt.IsZero() && h.now().Sub(h.lastErrorAt) < h.params.Backoff {
		return false, skipBackoff
	}
	if !reachable {
		return false, skipUnreachable
	}
	return true, ""
}

// MarkSent records that a push is in flight.
func (h *Heartbeat) MarkSent() {
	h.inFlight = true
}

// MarkResult records the outcome of the in-flight push. A failure arms the
// backoff window; there is no immediate retry.
func (h *Heartbeat) MarkResult(ok bool) {
	h.inFlight = false
	if ok {
		h.lastErrorAt = time.Time{}
		return
	}
	h.lastErrorAt = h.now()
	h.logger.Printf("Heartbeat: push failed, backing off %v", h.params.Backoff)
}
