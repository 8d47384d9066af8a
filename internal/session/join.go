package session

import (
	"log"
	"time"

	"github.com/pacelink/pacelink-app/internal/companion"
)

// JoinCoordinator detects an externally-active session while the local state
// is NotStarted and surfaces a single join offer for it. The offered latch
// guarantees at most one prompt per detected remote session; the latch clears
// when the local state leaves NotStarted, so a future return to NotStarted
// can offer a still-active remote session again.
type JoinCoordinator struct {
	logger  *log.Logger
	newID   func() string
	offered map[string]bool // remote workout ids already offered
	pending *JoinOffer
}

// NewJoinCoordinator creates a JoinCoordinator.
func NewJoinCoordinator(logger *log.Logger) *JoinCoordinator {
	if logger == nil {
		panic("JoinCoordinator: logger cannot be nil")
	}
	return &JoinCoordinator{
		logger:  logger,
		newID:   newWorkoutID,
		offered: make(map[string]bool),
	}
}

// Observe inspects a remote sync payload. It returns a new offer when the
// payload reports an in-progress session, the local machine is NotStarted,
// and this remote session has not been offered yet. An acknowledgment
// without a payload never reaches here - no payload, no active remote
// session, no guessing.
func (j *JoinCoordinator) Observe(localState State, m companion.SyncMetrics, now time.Time) (JoinOffer, bool) {
	if localState != StateNotStarted {
		return JoinOffer{}, false
	}
	remoteState := StateFromString(m.State)
	if !remoteState.Active() || m.WorkoutID == "" {
		return JoinOffer{}, false
	}
	if j.offered[m.WorkoutID] {
		return JoinOffer{}, false
	}

	mode := ModeOutdoor
	if m.IsIndoor {
		mode = ModeIndoor
	}
	startedAt := m.StartDate
	if startedAt.IsZero() {
		// Derive the start from the reported elapsed time.
		startedAt = now.Add(-time.Duration(m.ElapsedTime * float64(time.Second)))
	}

	offer := JoinOffer{
		OfferID:        j.newID(),
		WorkoutID:      m.WorkoutID,
		State:          remoteState,
		Mode:           mode,
		StartedAt:      startedAt,
		ElapsedSeconds: m.ElapsedTime,
		Metrics:        snapshotFromRemote(m, now),
	}
	j.offered[m.WorkoutID] = true
	j.pending = &offer
	j.logger.Printf("JoinCoordinator: offering join of remote %s session %s (%.0fs elapsed)", remoteState, m.WorkoutID, m.ElapsedTime)
	return offer, true
}

// Take consumes the pending offer by id. Returns false when the id does not
// match (stale accept after a newer offer, or no offer pending).
func (j *JoinCoordinator) Take(offerID string) (JoinOffer, bool) {
	if j.pending == nil || j.pending.OfferID != offerID {
		return JoinOffer{}, false
	}
	offer := *j.pending
	j.pending = nil
	return offer, true
}

// Decline drops the pending offer by id. The latch stays set, so the same
// remote session is not offered again.
func (j *JoinCoordinator) Decline(offerID string) {
	if j.pending != nil && j.pending.OfferID == offerID {
		j.pending = nil
	}
}

// LocalStateChanged resets the latch once the local state leaves NotStarted.
func (j *JoinCoordinator) LocalStateChanged(to State) {
	if to != StateNotStarted {
		j.offered = make(map[string]bool)
		j.pending = nil
	}
}
