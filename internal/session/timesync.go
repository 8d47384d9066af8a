package session

import (
	"log"
	"math"
	"time"
)

// TimeSyncParams tunes the displayed-time reconciliation.
type TimeSyncParams struct {
	// TickIncrement is the seconds added to the display per tick while running.
	TickIncrement float64
	// DriftThreshold: differences at or below this are corrected fractionally.
	DriftThreshold float64
	// CorrectionFraction of the remaining skew applied on each tick.
	CorrectionFraction float64
	// LargeJumpThreshold: remote-origin differences above this trigger an
	// eased transition instead of a visible jump.
	LargeJumpThreshold float64
	// TransitionDuration bounds the eased transition.
	TransitionDuration time.Duration
}

// TimeSync reconciles the locally accumulated display clock against the
// session's authoritative elapsed time. Small drift converges by a fractional
// correction each tick; a large remote-origin jump runs a bounded cubic
// ease-in-out so the displayed time glides rather than snapping.
type TimeSync struct {
	logger *log.Logger
	params TimeSyncParams
	now    func() time.Time

	displayed float64
	skew      float64 // remaining small-drift correction

	transitioning   bool
	transitionStart float64
	transitionGoal  float64
	transitionFrom  time.Time
}

// NewTimeSync creates a TimeSync anchored at zero.
func NewTimeSync(logger *log.Logger, params TimeSyncParams, now func() time.Time) *TimeSync {
	if logger == nil {
		panic("TimeSync: logger cannot be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &TimeSync{logger: logger, params: params, now: now}
}

// easeInOutCubic maps progress in [0,1] to an S-curve in [0,1].
func easeInOutCubic(p float64) float64 {
	if p < 0.5 {
		return 4 * p * p * p
	}
	f := 2*p - 2
	return 1 + f*f*f/2
}

// settleTransition folds a finished or in-flight transition into displayed.
// Returns true while a transition is still running.
func (t *TimeSync) settleTransition() bool {
	if !t.transitioning {
		return false
	}
	elapsed := t.now().Sub(t.transitionFrom)
	if elapsed >= t.params.TransitionDuration {
		t.displayed = t.transitionGoal
		t.transitioning = false
		return false
	}
	p := float64(elapsed) / float64(t.params.TransitionDuration)
	t.displayed = t.transitionStart + (t.transitionGoal-t.transitionStart)*easeInOutCubic(p)
	return true
}

// Displayed samples the current display value. Safe to call at any state;
// while a transition is in flight it interpolates against the wall clock.
func (t *TimeSync) Displayed() float64 {
	t.settleTransition()
	return t.displayed
}

// Tick advances the display clock by one period. running suspends
// accumulation while paused, but an in-flight transition or pending drift
// correction still completes.
func (t *TimeSync) Tick(running bool) {
	if t.settleTransition() {
		// The transition owns the display until it lands.
		return
	}
	if running {
		t.displayed += t.params.TickIncrement
	}
	if t.skew != 0 {
		adj := t.skew * t.params.CorrectionFraction
		if math.Abs(t.skew) < 0.01 {
			adj = t.skew // close enough, finish the correction
		}
		t.displayed += adj
		t.skew -= adj
	}
}

// Reconcile compares the display against the authoritative elapsed seconds.
// Small differences feed the fractional corrector. Differences beyond the
// large-jump threshold start an eased transition, but only for remote-origin
// updates - the local clock never jumps that far on its own.
func (t *TimeSync) Reconcile(authoritative float64, remoteOrigin bool) {
	if t.settleTransition() {
		return
	}
	diff := authoritative - t.displayed
	if remoteOrigin && math.Abs(diff) > t.params.LargeJumpThreshold {
		t.transitioning = true
		t.transitionStart = t.displayed
		t.transitionGoal = authoritative
		t.transitionFrom = t.now()
		t.skew = 0
		t.logger.Printf("TimeSync: easing display %.1fs -> %.1fs over %v", t.displayed, authoritative, t.params.TransitionDuration)
		return
	}
	if math.Abs(diff) <= t.params.DriftThreshold {
		t.skew = diff
		return
	}
	// Local-origin difference beyond the drift threshold: still correct
	// fractionally rather than jumping; the corrector converges fast.
	t.skew = diff
}

// Anchor resets the display to an exact value, cancelling any correction or
// transition. Called when the state machine re-anchors on a transition.
func (t *TimeSync) Anchor(value float64) {
	t.displayed = value
	t.skew = 0
	t.transitioning = false
}

// InTransition reports whether an eased transition is in flight.
func (t *TimeSync) InTransition() bool {
	return t.settleTransition()
}
