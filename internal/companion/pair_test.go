package companion

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestPair_RequestReply(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	a, b := pair.Ends()

	reqCh := make(chan Incoming, 1)
	defer b.ListenToRequests(reqCh)()

	go func() {
		in := <-reqCh
		require.Equal(t, TypePauseWorkout, in.Msg.Type())
		in.Reply(Ack{Success: true, State: "paused"})
	}()

	r := a.SendRequest(context.Background(), PauseWorkout{WorkoutID: "w-1"}, time.Second)
	require.Equal(t, OutcomeReply, r.Outcome)
	ack := r.Reply.(Ack)
	assert.True(t, ack.Success)
	assert.Equal(t, "paused", ack.State)
}

func TestPair_SecondReplyDiscarded(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	a, b := pair.Ends()

	reqCh := make(chan Incoming, 1)
	defer b.ListenToRequests(reqCh)()

	go func() {
		in := <-reqCh
		in.Reply(Ack{Success: true})
		in.Reply(Ack{Success: false})
	}()

	r := a.SendRequest(context.Background(), RequestActiveWorkout{}, time.Second)
	require.Equal(t, OutcomeReply, r.Outcome)
	assert.True(t, r.Reply.(Ack).Success)
}

func TestPair_TimeoutWhenPeerSilent(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	a, _ := pair.Ends()

	start := time.Now()
	r := a.SendRequest(context.Background(), RequestActiveWorkout{}, 50*time.Millisecond)
	assert.Equal(t, OutcomeTimedOut, r.Outcome)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPair_LinkDownFailsFast(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	a, _ := pair.Ends()

	pair.SetLinkUp(false)
	r := a.SendRequest(context.Background(), RequestActiveWorkout{}, time.Second)
	require.Equal(t, OutcomeError, r.Outcome)
	assert.ErrorIs(t, r.Err, ErrNotReachable)
	assert.False(t, a.Reachable())
}

func TestPair_ReachabilityNotifications(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	a, _ := pair.Ends()

	ch := make(chan bool, 4)
	defer a.ListenToReachability(ch)()

	// Replayed current state first.
	select {
	case up := <-ch:
		assert.True(t, up)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no replayed reachability")
	}

	pair.SetLinkUp(false)
	select {
	case up := <-ch:
		assert.False(t, up)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no down notification")
	}
}

func TestPair_ContextPushDelivers(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	a, b := pair.Ends()

	ctxCh := make(chan Message, 1)
	defer b.ListenToContext(ctxCh)()

	require.NoError(t, a.PushContext(SyncMetrics{WorkoutID: "w-1", State: "running"}))

	select {
	case msg := <-ctxCh:
		assert.Equal(t, "w-1", msg.(SyncMetrics).WorkoutID)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("context push not delivered")
	}
}

func TestPair_NewerContextPushSupersedes(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	pair.SetLatency(30 * time.Millisecond)
	a, b := pair.Ends()

	ctxCh := make(chan Message, 4)
	defer b.ListenToContext(ctxCh)()

	require.NoError(t, a.PushContext(SyncMetrics{WorkoutID: "w-1", ElapsedTime: 10}))
	require.NoError(t, a.PushContext(SyncMetrics{WorkoutID: "w-1", ElapsedTime: 20}))

	select {
	case msg := <-ctxCh:
		// Only the newest survives the in-flight window.
		assert.Equal(t, 20.0, msg.(SyncMetrics).ElapsedTime)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no context delivered")
	}

	select {
	case msg := <-ctxCh:
		t.Fatalf("superseded push delivered: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPair_PushWhileDownIsSilentLoss(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	a, b := pair.Ends()

	ctxCh := make(chan Message, 1)
	defer b.ListenToContext(ctxCh)()

	pair.SetLinkUp(false)
	require.NoError(t, a.PushContext(SyncMetrics{WorkoutID: "w-1"}))

	select {
	case <-ctxCh:
		t.Fatal("push delivered over a down link")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPair_ShutdownFailsSends(t *testing.T) {
	pair := NewPair(testLogger())
	a, _ := pair.Ends()

	pair.Shutdown()
	pair.Shutdown() // idempotent

	r := a.SendRequest(context.Background(), RequestActiveWorkout{}, time.Second)
	require.Equal(t, OutcomeError, r.Outcome)
	assert.ErrorIs(t, r.Err, ErrNotActivated)
	assert.ErrorIs(t, a.PushContext(Ack{}), ErrNotActivated)
}

func TestPair_FullDropRateTimesOut(t *testing.T) {
	pair := NewPair(testLogger())
	defer pair.Shutdown()
	pair.SetDropRate(1.0)
	a, b := pair.Ends()

	reqCh := make(chan Incoming, 1)
	defer b.ListenToRequests(reqCh)()

	r := a.SendRequest(context.Background(), RequestActiveWorkout{}, 50*time.Millisecond)
	assert.Equal(t, OutcomeTimedOut, r.Outcome)
}
