package session

import (
	"log"
	"time"
)

// Merger combines locally-sensed and remotely-reported metric batches into
// one coherent snapshot, honoring the authority table per field. Values from
// a non-owning source never overwrite the snapshot; they are recorded in a
// shadow map for audit and fallback inspection.
type Merger struct {
	logger *log.Logger
	shadow map[MetricID]MetricValue
}

// NewMerger creates a Merger.
func NewMerger(logger *log.Logger) *Merger {
	if logger == nil {
		panic("Merger: logger cannot be nil")
	}
	return &Merger{
		logger: logger,
		shadow: make(map[MetricID]MetricValue),
	}
}

// Apply arbitrates one batch of fields from origin against the authority
// table and returns a replacement snapshot. Each field is arbitrated
// independently: a rejected field does not poison the rest of the batch.
// When authority for a metric has flipped since the last update, the new
// owner's value replaces the field outright - no blending.
func (m *Merger) Apply(current MetricsSnapshot, table AuthorityTable, origin Source, fields MetricData, now time.Time) MetricsSnapshot {
	if len(fields) == 0 {
		return current
	}

	values := current.clone()
	for id, v := range fields {
		if table.Owner(id) != origin {
			m.shadow[id] = MetricValue{Value: v, Source: origin, UpdatedAt: now}
			continue
		}
		values[id] = MetricValue{Value: v, Source: origin, UpdatedAt: now}
	}
	return MetricsSnapshot{values: values}
}

// Shadow returns the last value seen from a non-owning source for a metric.
func (m *Merger) Shadow(id MetricID) (MetricValue, bool) {
	v, ok := m.shadow[id]
	return v, ok
}
