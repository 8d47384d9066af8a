package session

import "errors"

// State is the lifecycle state of a workout session.
// NotStarted -> Running <-> Paused -> Completed (terminal). NotStarted is
// reachable again only by constructing a new session with a new id.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StatePaused
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "notStarted"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// StateFromString parses a wire state string. Unknown strings map to
// StateNotStarted; remote payloads use "active" as a synonym for running.
func StateFromString(s string) State {
	switch s {
	case "running", "active":
		return StateRunning
	case "paused":
		return StatePaused
	case "completed":
		return StateCompleted
	default:
		return StateNotStarted
	}
}

// Active reports whether a session in this state is in progress.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// Mode is the tracking mode of a session.
type Mode int

const (
	ModeOutdoor Mode = iota
	ModeIndoor
)

func (m Mode) String() string {
	if m == ModeIndoor {
		return "indoor"
	}
	return "outdoor"
}

// Source identifies which device produced a value.
type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceRemote {
		return "remote"
	}
	return "local"
}

// MetricID uniquely identifies a tracked metric.
type MetricID string

const (
	MetricDistance  MetricID = "distance"
	MetricPace      MetricID = "pace"
	MetricHeartRate MetricID = "heart_rate"
	MetricCalories  MetricID = "calories"
	MetricCadence   MetricID = "cadence"
	MetricStepCount MetricID = "step_count"
)

// MetricInfo contains display information for a metric.
type MetricInfo struct {
	ID          MetricID
	DisplayName string
	Unit        string
}

// AllMetrics defines every arbitrated metric in display order.
var AllMetrics = []MetricInfo{
	{ID: MetricDistance, DisplayName: "Distance", Unit: "m"},
	{ID: MetricPace, DisplayName: "Pace", Unit: "s/km"},
	{ID: MetricHeartRate, DisplayName: "Heart Rate", Unit: "bpm"},
	{ID: MetricCalories, DisplayName: "Calories", Unit: "kcal"},
	{ID: MetricCadence, DisplayName: "Cadence", Unit: "spm"},
	{ID: MetricStepCount, DisplayName: "Steps", Unit: ""},
}

// GetMetricInfo returns the info for a given metric id.
func GetMetricInfo(id MetricID) (MetricInfo, bool) {
	for _, info := range AllMetrics {
		if info.ID == id {
			return info, true
		}
	}
	return MetricInfo{}, false
}

// CommandKind identifies a state transition request.
type CommandKind int

const (
	CommandStart CommandKind = iota
	CommandPause
	CommandResume
	CommandEnd
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandPause:
		return "pause"
	case CommandResume:
		return "resume"
	case CommandEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Protocol errors. These are the only errors that cross the state machine
// boundary; each maps to a fixed wire string via WireError.
var (
	ErrInvalidState        = errors.New("invalid state for command")
	ErrMismatchedWorkoutID = errors.New("mismatched workout id")
	ErrEngineUnavailable   = errors.New("tracking engine unavailable")
)

// WireError maps a protocol error to its closed-set wire string.
// Returns "" for nil.
func WireError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidState):
		return "InvalidState"
	case errors.Is(err, ErrMismatchedWorkoutID):
		return "MismatchedWorkoutId"
	default:
		return "EngineUnavailable"
	}
}
