package sensor

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacelink/pacelink-app/internal/session"
)

func TestSim_ProducesMonotonicCumulativeReadings(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	sim := NewSim(logger, SimParams{Interval: 10 * time.Millisecond, Seed: 42})
	defer sim.Stop()

	ch := make(chan session.MetricData, 32)
	defer sim.ListenToUpdates(ch)()
	sim.Start()

	var batches []session.MetricData
	deadline := time.After(2 * time.Second)
	for len(batches) < 5 {
		select {
		case b := <-ch:
			batches = append(batches, b)
		case <-deadline:
			t.Fatal("timeout waiting for sensor updates")
		}
	}

	prev := -1.0
	for i, b := range batches {
		d := b[session.MetricDistance]
		assert.Greater(t, d, prev, "batch %d", i)
		prev = d

		assert.Greater(t, b[session.MetricPace], 0.0)
		assert.Greater(t, b[session.MetricHeartRate], 0.0)
	}
}

func TestSim_CurrentMetricsMatchesStream(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	sim := NewSim(logger, SimParams{Interval: 10 * time.Millisecond, Seed: 1})
	defer sim.Stop()
	sim.Start()

	require.Eventually(t, func() bool {
		return sim.CurrentMetrics()[session.MetricDistance] > 0
	}, 2*time.Second, 10*time.Millisecond)

	m := sim.CurrentMetrics()
	assert.Contains(t, m, session.MetricStepCount)
	assert.Contains(t, m, session.MetricCalories)
}

func TestSim_StopHaltsUpdates(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	sim := NewSim(logger, SimParams{Interval: 10 * time.Millisecond, Seed: 1})

	ch := make(chan session.MetricData, 32)
	defer sim.ListenToUpdates(ch)()
	sim.Start()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no update before stop")
	}

	sim.Stop()
	time.Sleep(30 * time.Millisecond)
	for len(ch) > 0 {
		<-ch
	}

	select {
	case <-ch:
		t.Fatal("update after stop")
	case <-time.After(50 * time.Millisecond):
	}

	// Restart after stop is a no-op.
	sim.Start()
	select {
	case <-ch:
		t.Fatal("update after stopped restart")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSim_DeterministicWithSeed(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	a := NewSim(logger, SimParams{Seed: 7})
	b := NewSim(logger, SimParams{Seed: 7})

	a.step(1)
	b.step(1)
	assert.Equal(t, a.snapshot(), b.snapshot())
}
