package session

import (
	"time"

	"github.com/pacelink/pacelink-app/internal/companion"
)

// MetricData holds a batch of raw metric readings from one source.
type MetricData map[MetricID]float64

// MetricValue is one arbitrated snapshot field: the value, which device it
// came from, and when it was last updated.
type MetricValue struct {
	Value     float64
	Source    Source
	UpdatedAt time.Time
}

// MetricsSnapshot is an immutable set of arbitrated metric values. It is
// never mutated in place; the merger always produces a replacement, so a
// reader holding a snapshot can never observe a partial update.
type MetricsSnapshot struct {
	values map[MetricID]MetricValue
}

// NewMetricsSnapshot returns an empty snapshot.
func NewMetricsSnapshot() MetricsSnapshot {
	return MetricsSnapshot{values: map[MetricID]MetricValue{}}
}

// Value returns the snapshot field for a metric.
func (s MetricsSnapshot) Value(id MetricID) (MetricValue, bool) {
	v, ok := s.values[id]
	return v, ok
}

// Get returns just the numeric value, zero when absent.
func (s MetricsSnapshot) Get(id MetricID) float64 {
	return s.values[id].Value
}

// Len returns the number of populated fields.
func (s MetricsSnapshot) Len() int { return len(s.values) }

// clone copies the backing map so a derived snapshot never aliases it.
func (s MetricsSnapshot) clone() map[MetricID]MetricValue {
	out := make(map[MetricID]MetricValue, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Fields converts the snapshot to the flat wire representation.
func (s MetricsSnapshot) Fields() companion.MetricFields {
	return companion.MetricFields{
		Distance:  s.Get(MetricDistance),
		Pace:      s.Get(MetricPace),
		HeartRate: s.Get(MetricHeartRate),
		Calories:  s.Get(MetricCalories),
		Cadence:   s.Get(MetricCadence),
		StepCount: s.Get(MetricStepCount),
	}
}

// snapshotFromRemote builds a snapshot wholly from a remote sync payload,
// used when seeding a joined session.
func snapshotFromRemote(m companion.SyncMetrics, now time.Time) MetricsSnapshot {
	values := map[MetricID]MetricValue{
		MetricDistance:  {Value: m.Distance, Source: SourceRemote, UpdatedAt: now},
		MetricPace:      {Value: m.Pace, Source: SourceRemote, UpdatedAt: now},
		MetricHeartRate: {Value: m.HeartRate, Source: SourceRemote, UpdatedAt: now},
		MetricCalories:  {Value: m.Calories, Source: SourceRemote, UpdatedAt: now},
		MetricCadence:   {Value: m.Cadence, Source: SourceRemote, UpdatedAt: now},
		MetricStepCount: {Value: m.StepCount, Source: SourceRemote, UpdatedAt: now},
	}
	return MetricsSnapshot{values: values}
}

// remoteFields converts a sync payload to a metric batch.
func remoteFields(m companion.SyncMetrics) MetricData {
	return MetricData{
		MetricDistance:  m.Distance,
		MetricPace:      m.Pace,
		MetricHeartRate: m.HeartRate,
		MetricCalories:  m.Calories,
		MetricCadence:   m.Cadence,
		MetricStepCount: m.StepCount,
	}
}

// heartbeatFields converts a heartbeat payload to a metric batch.
func heartbeatFields(f companion.MetricFields) MetricData {
	return MetricData{
		MetricDistance:  f.Distance,
		MetricPace:      f.Pace,
		MetricHeartRate: f.HeartRate,
		MetricCalories:  f.Calories,
		MetricCadence:   f.Cadence,
		MetricStepCount: f.StepCount,
	}
}

// WorkoutSession is one tracked activity instance. Owned exclusively by the
// session manager's serialization goroutine; callers get copies.
type WorkoutSession struct {
	ID             string
	State          State
	Mode           Mode
	StartedAt      time.Time
	ElapsedSeconds float64
	Metrics        MetricsSnapshot
}

// Transition is the result of a successful state machine operation.
type Transition struct {
	From    State
	To      State
	Session WorkoutSession
}

// StateChange is the event published to subscribers on every transition.
type StateChange struct {
	From    State
	To      State
	Session WorkoutSession
}

// JoinOffer is surfaced at most once per detected remote session while the
// local state is NotStarted.
type JoinOffer struct {
	OfferID        string
	WorkoutID      string
	State          State
	Mode           Mode
	StartedAt      time.Time
	ElapsedSeconds float64
	Metrics        MetricsSnapshot
}
