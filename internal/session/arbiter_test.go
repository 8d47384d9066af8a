package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAuthority_EveryMetricHasExactlyOneOwner(t *testing.T) {
	for _, mode := range []Mode{ModeOutdoor, ModeIndoor} {
		for _, signal := range []bool{true, false} {
			for _, remote := range []bool{true, false} {
				table := ComputeAuthority(mode, signal, remote)
				for _, info := range AllMetrics {
					owner, ok := table[info.ID]
					assert.True(t, ok, "%s unowned (mode=%s signal=%v remote=%v)", info.ID, mode, signal, remote)
					assert.Contains(t, []Source{SourceLocal, SourceRemote}, owner)
				}
			}
		}
	}
}

func TestComputeAuthority_BodyMetricsFollowRemote(t *testing.T) {
	table := ComputeAuthority(ModeOutdoor, true, true)
	assert.Equal(t, SourceRemote, table[MetricHeartRate])
	assert.Equal(t, SourceRemote, table[MetricCalories])
	assert.Equal(t, SourceRemote, table[MetricCadence])
	assert.Equal(t, SourceRemote, table[MetricStepCount])

	table = ComputeAuthority(ModeOutdoor, true, false)
	assert.Equal(t, SourceLocal, table[MetricHeartRate])
}

func TestComputeAuthority_PositionMetrics(t *testing.T) {
	// Outdoors with good signal the local fix wins regardless of the remote.
	table := ComputeAuthority(ModeOutdoor, true, true)
	assert.Equal(t, SourceLocal, table[MetricDistance])
	assert.Equal(t, SourceLocal, table[MetricPace])

	// Degraded signal hands position to an actively tracking remote.
	table = ComputeAuthority(ModeOutdoor, false, true)
	assert.Equal(t, SourceRemote, table[MetricDistance])

	// Indoors position never comes from the local fix.
	table = ComputeAuthority(ModeIndoor, true, true)
	assert.Equal(t, SourceRemote, table[MetricDistance])

	// With no remote at all, local is the fallback owner.
	table = ComputeAuthority(ModeIndoor, false, false)
	assert.Equal(t, SourceLocal, table[MetricDistance])
}

func TestAuthorityTable_DefaultsLocal(t *testing.T) {
	var table AuthorityTable
	assert.Equal(t, SourceLocal, table.Owner(MetricDistance))

	table = AuthorityTable{MetricDistance: SourceRemote}
	assert.Equal(t, SourceRemote, table.Owner(MetricDistance))
	assert.Equal(t, SourceLocal, table.Owner(MetricPace))
}
