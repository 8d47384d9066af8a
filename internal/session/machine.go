package session

import (
	"log"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newWorkoutID allocates a fresh opaque session identifier.
func newWorkoutID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Machine holds the canonical session state and workout identity. It has no
// locking and no goroutines: every call happens on the manager's
// serialization goroutine. Commands from either device funnel through the
// same identity and precondition checks.
type Machine struct {
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
	session WorkoutSession
}

// NewMachine creates a machine in NotStarted with no session identity.
func NewMachine(logger *log.Logger, now func() time.Time) *Machine {
	if logger == nil {
		panic("Machine: logger cannot be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{
		logger: logger,
		now:    now,
		newID:  newWorkoutID,
		session: WorkoutSession{
			State:   StateNotStarted,
			Metrics: NewMetricsSnapshot(),
		},
	}
}

// State returns the current session state.
func (m *Machine) State() State { return m.session.State }

// Session returns a copy of the current session.
func (m *Machine) Session() WorkoutSession { return m.session }

// checkID validates a command's workout id against the session identity.
// An empty id is accepted (command addressed to "the current session").
func (m *Machine) checkID(workoutID string) error {
	if workoutID != "" && m.session.ID != "" && workoutID != m.session.ID {
		return ErrMismatchedWorkoutID
	}
	return nil
}

// Start begins a new session. Valid from NotStarted, or from Completed (the
// previous session value was frozen and handed off; starting constructs a
// brand-new session with a new id).
func (m *Machine) Start(mode Mode) (Transition, error) {
	from := m.session.State
	if from == StateRunning || from == StatePaused {
		return Transition{}, ErrInvalidState
	}

	m.session = WorkoutSession{
		ID:        m.newID(),
		State:     StateRunning,
		Mode:      mode,
		StartedAt: m.now(),
		Metrics:   NewMetricsSnapshot(),
	}
	m.logger.Printf("Machine: started %s session %s", mode, m.session.ID)
	return Transition{From: from, To: StateRunning, Session: m.session}, nil
}

// Pause suspends a running session. Already-paused sessions return
// ErrInvalidState without mutating anything - the command is an idempotent
// no-op, not a failure of the session.
func (m *Machine) Pause(workoutID string) (Transition, error) {
	if m.session.State != StateRunning {
		return Transition{}, ErrInvalidState
	}
	if err := m.checkID(workoutID); err != nil {
		return Transition{}, err
	}

	m.session.State = StatePaused
	m.logger.Printf("Machine: paused session %s at %.1fs", m.session.ID, m.session.ElapsedSeconds)
	return Transition{From: StateRunning, To: StatePaused, Session: m.session}, nil
}

// Resume continues a paused session.
func (m *Machine) Resume(workoutID string) (Transition, error) {
	if m.session.State != StatePaused {
		return Transition{}, ErrInvalidState
	}
	if err := m.checkID(workoutID); err != nil {
		return Transition{}, err
	}

	m.session.State = StateRunning
	m.logger.Printf("Machine: resumed session %s", m.session.ID)
	return Transition{From: StatePaused, To: StateRunning, Session: m.session}, nil
}

// End completes the session from Running or Paused, freezing metrics and
// elapsed time. The returned transition carries the final session value.
func (m *Machine) End(workoutID string) (Transition, error) {
	from := m.session.State
	if from != StateRunning && from != StatePaused {
		return Transition{}, ErrInvalidState
	}
	if err := m.checkID(workoutID); err != nil {
		return Transition{}, err
	}

	m.session.State = StateCompleted
	m.logger.Printf("Machine: completed session %s (%.1fs, %.0fm)",
		m.session.ID, m.session.ElapsedSeconds, m.session.Metrics.Get(MetricDistance))
	return Transition{From: from, To: StateCompleted, Session: m.session}, nil
}

// Seed constructs the session directly in a remote-reported state, used by
// the join handoff. Valid only from NotStarted (or Completed, same as Start).
func (m *Machine) Seed(workoutID string, state State, mode Mode, startedAt time.Time, elapsed float64, metrics MetricsSnapshot) (Transition, error) {
	from := m.session.State
	if from == StateRunning || from == StatePaused {
		return Transition{}, ErrInvalidState
	}
	if !state.Active() {
		return Transition{}, ErrInvalidState
	}

	m.session = WorkoutSession{
		ID:             workoutID,
		State:          state,
		Mode:           mode,
		StartedAt:      startedAt,
		ElapsedSeconds: elapsed,
		Metrics:        metrics,
	}
	m.logger.Printf("Machine: seeded %s session %s from remote at %.1fs", state, workoutID, elapsed)
	return Transition{From: from, To: state, Session: m.session}, nil
}

// AdvanceElapsed accumulates local elapsed time while running.
func (m *Machine) AdvanceElapsed(seconds float64) {
	if m.session.State == StateRunning {
		m.session.ElapsedSeconds += seconds
	}
}

// SetElapsed overwrites the authoritative elapsed time with a remote-origin
// value. No-op once completed; the final value is frozen.
func (m *Machine) SetElapsed(seconds float64) {
	if m.session.State.Active() {
		m.session.ElapsedSeconds = seconds
	}
}

// SetMetrics replaces the session's metrics snapshot. No-op once completed.
func (m *Machine) SetMetrics(s MetricsSnapshot) {
	if m.session.State != StateCompleted {
		m.session.Metrics = s
	}
}
