package session

// AuthorityTable maps each metric to the device whose readings are trusted
// for it. Exactly one owner per metric at any instant; the table is always
// recomputed and replaced whole, never patched field by field.
type AuthorityTable map[MetricID]Source

// Owner returns the owning source for a metric. An unresolved metric
// defaults to local ownership rather than going stale.
func (t AuthorityTable) Owner(id MetricID) Source {
	if t == nil {
		return SourceLocal
	}
	owner, ok := t[id]
	if !ok {
		return SourceLocal
	}
	return owner
}

// ComputeAuthority decides per-metric ownership from the tracking mode, local
// signal quality, and whether the companion is actively reporting.
//
// Heart rate, calories, cadence and step count sit closer to the body on the
// wearable, so the remote wins whenever it is actively tracking. Distance and
// pace come from positioning: local wins outdoors with good signal, otherwise
// an actively-tracking remote wins, with local as the last resort so no
// metric is ever unowned.
func ComputeAuthority(mode Mode, hasGoodLocalSignal, remoteActive bool) AuthorityTable {
	bodyMetric := SourceLocal
	if remoteActive {
		bodyMetric = SourceRemote
	}

	positionMetric := SourceLocal
	if !(mode == ModeOutdoor && hasGoodLocalSignal) && remoteActive {
		positionMetric = SourceRemote
	}

	return AuthorityTable{
		MetricHeartRate: bodyMetric,
		MetricCalories:  bodyMetric,
		MetricCadence:   bodyMetric,
		MetricStepCount: bodyMetric,
		MetricDistance:  positionMetric,
		MetricPace:      positionMetric,
	}
}
