package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testTimeSyncParams() TimeSyncParams {
	return TimeSyncParams{
		TickIncrement:      1.0,
		DriftThreshold:     0.75,
		CorrectionFraction: 0.25,
		LargeJumpThreshold: 3.0,
		TransitionDuration: 2 * time.Second,
	}
}

func TestTimeSync_TickAccumulatesWhileRunning(t *testing.T) {
	ts := NewTimeSync(testLogger(), testTimeSyncParams(), newFakeClock().now)

	ts.Tick(true)
	ts.Tick(true)
	assert.Equal(t, 2.0, ts.Displayed())

	ts.Tick(false)
	assert.Equal(t, 2.0, ts.Displayed())
}

func TestTimeSync_SmallDriftCorrectedFractionally(t *testing.T) {
	ts := NewTimeSync(testLogger(), testTimeSyncParams(), newFakeClock().now)
	ts.Anchor(10.0)

	ts.Reconcile(10.6, true) // diff 0.6, under the jump threshold
	before := ts.Displayed()
	assert.Equal(t, 10.0, before)

	// Paused ticks: no accumulation, only the correction moves the display.
	ts.Tick(false)
	afterOne := ts.Displayed()
	assert.InDelta(t, 10.15, afterOne, 1e-9) // 0.6 * 0.25

	for i := 0; i < 40; i++ {
		ts.Tick(false)
	}
	assert.InDelta(t, 10.6, ts.Displayed(), 0.01)
}

func TestTimeSync_LargeRemoteJumpEases(t *testing.T) {
	clock := newFakeClock()
	params := testTimeSyncParams()
	ts := NewTimeSync(testLogger(), params, clock.now)
	ts.Anchor(40.0)

	ts.Reconcile(45.3, true) // diff 5.3 > 3.0
	assert.True(t, ts.InTransition())
	assert.Equal(t, 40.0, ts.Displayed())

	// Strictly monotonic while easing, never overshooting.
	prev := 40.0
	for step := 0; step < 19; step++ {
		clock.advance(100 * time.Millisecond)
		v := ts.Displayed()
		assert.Greater(t, v, prev, "step %d", step)
		assert.Less(t, v, 45.3, "step %d", step)
		prev = v
	}

	// At the transition duration the target is hit exactly.
	clock.advance(100 * time.Millisecond)
	assert.Equal(t, 45.3, ts.Displayed())
	assert.False(t, ts.InTransition())
}

func TestTimeSync_LargeLocalDifferenceNeverEases(t *testing.T) {
	ts := NewTimeSync(testLogger(), testTimeSyncParams(), newFakeClock().now)
	ts.Anchor(40.0)

	ts.Reconcile(45.3, false)
	assert.False(t, ts.InTransition())

	// Converges through the fractional corrector instead.
	for i := 0; i < 60; i++ {
		ts.Tick(false)
	}
	assert.InDelta(t, 45.3, ts.Displayed(), 0.01)
}

func TestTimeSync_TransitionCompletesWhilePaused(t *testing.T) {
	clock := newFakeClock()
	ts := NewTimeSync(testLogger(), testTimeSyncParams(), clock.now)
	ts.Anchor(40.0)
	ts.Reconcile(50.0, true)

	// Ticks while paused must not stall the in-flight transition.
	clock.advance(time.Second)
	ts.Tick(false)
	mid := ts.Displayed()
	assert.Greater(t, mid, 40.0)
	assert.Less(t, mid, 50.0)

	clock.advance(time.Second)
	ts.Tick(false)
	assert.Equal(t, 50.0, ts.Displayed())
}

func TestTimeSync_ReconcileIgnoredDuringTransition(t *testing.T) {
	clock := newFakeClock()
	ts := NewTimeSync(testLogger(), testTimeSyncParams(), clock.now)
	ts.Anchor(40.0)
	ts.Reconcile(50.0, true)

	clock.advance(500 * time.Millisecond)
	ts.Reconcile(80.0, true) // in flight, dropped
	assert.True(t, ts.InTransition())

	clock.advance(2 * time.Second)
	assert.Equal(t, 50.0, ts.Displayed())
}

func TestTimeSync_AnchorCancelsEverything(t *testing.T) {
	clock := newFakeClock()
	ts := NewTimeSync(testLogger(), testTimeSyncParams(), clock.now)
	ts.Anchor(40.0)
	ts.Reconcile(50.0, true)

	ts.Anchor(0)
	assert.False(t, ts.InTransition())
	assert.Equal(t, 0.0, ts.Displayed())

	ts.Tick(true)
	assert.Equal(t, 1.0, ts.Displayed())
}
