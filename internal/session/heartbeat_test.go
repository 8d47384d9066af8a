package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testHeartbeatParams() HeartbeatParams {
	return HeartbeatParams{
		Period:  5 * time.Second,
		Timeout: time.Second,
		Backoff: 10 * time.Second,
	}
}

func TestHeartbeat_SkipsWhenNotStarted(t *testing.T) {
	h := NewHeartbeat(testLogger(), testHeartbeatParams(), newFakeClock().now)

	ok, reason := h.ShouldSend(StateNotStarted, true)
	assert.False(t, ok)
	assert.Equal(t, "not_started", reason)
}

func TestHeartbeat_SendsWhenActiveAndReachable(t *testing.T) {
	h := NewHeartbeat(testLogger(), testHeartbeatParams(), newFakeClock().now)

	for _, state := range []State{StateRunning, StatePaused, StateCompleted} {
		ok, reason := h.ShouldSend(state, true)
		assert.True(t, ok, "state %s", state)
		assert.Empty(t, reason)
	}
}

func TestHeartbeat_SkipsWhileInFlight(t *testing.T) {
	h := NewHeartbeat(testLogger(), testHeartbeatParams(), newFakeClock().now)

	h.MarkSent()
	ok, reason := h.ShouldSend(StateRunning, true)
	assert.False(t, ok)
	assert.Equal(t, "in_flight", reason)

	h.MarkResult(true)
	ok, _ = h.ShouldSend(StateRunning, true)
	assert.True(t, ok)
}

func TestHeartbeat_BackoffAfterFailure(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeat(testLogger(), testHeartbeatParams(), clock.now)

	h.MarkSent()
	h.MarkResult(false)

	ok, reason := h.ShouldSend(StateRunning, true)
	assert.False(t, ok)
	assert.Equal(t, "backoff", reason)

	// Still inside the backoff window.
	clock.advance(9 * time.Second)
	ok, reason = h.ShouldSend(StateRunning, true)
	assert.False(t, ok)
	assert.Equal(t, "backoff", reason)

	clock.advance(2 * time.Second)
	ok, _ = h.ShouldSend(StateRunning, true)
	assert.True(t, ok)
}

func TestHeartbeat_SuccessClearsBackoff(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeat(testLogger(), testHeartbeatParams(), clock.now)

	h.MarkSent()
	h.MarkResult(false)
	clock.advance(11 * time.Second)

	h.MarkSent()
	h.MarkResult(true)

	ok, _ := h.ShouldSend(StateRunning, true)
	assert.True(t, ok)
}

func TestHeartbeat_SkipsWhenUnreachable(t *testing.T) {
	h := NewHeartbeat(testLogger(), testHeartbeatParams(), newFakeClock().now)

	ok, reason := h.ShouldSend(StateRunning, false)
	assert.False(t, ok)
	assert.Equal(t, "unreachable", reason)
}
