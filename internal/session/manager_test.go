package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacelink/pacelink-app/internal/companion"
)

func fastParams() Params {
	p := DefaultParams()
	p.TickPeriod = 20 * time.Millisecond
	p.SyncInterval = time.Hour // periodic sync driven manually in tests
	p.RequestTimeout = 200 * time.Millisecond
	p.RemoteActiveWindow = time.Second
	p.Heartbeat.Period = time.Hour
	return p
}

type captureArchiver struct {
	saved chan WorkoutSession
}

func newCaptureArchiver() *captureArchiver {
	return &captureArchiver{saved: make(chan WorkoutSession, 4)}
}

func (a *captureArchiver) SaveCompleted(_ context.Context, s WorkoutSession) error {
	a.saved <- s
	return nil
}

// harness wires a manager to one pair end and exposes the other end as the
// scripted peer device.
type harness struct {
	t       *testing.T
	pair    *companion.Pair
	mgr     *Manager
	peer    *companion.PairEnd
	peerReq chan companion.Incoming
	states  chan StateChange
	offers  chan JoinOffer
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	logger := testLogger()
	pair := companion.NewPair(logger)
	local, peer := pair.Ends()

	if opts.Params.TickPeriod == 0 {
		opts.Params = fastParams()
	}
	if opts.Role == "" {
		opts.Role = "phone"
	}
	mgr := NewManager(logger, local, opts)

	h := &harness{
		t:       t,
		pair:    pair,
		mgr:     mgr,
		peer:    peer,
		peerReq: make(chan companion.Incoming, 8),
		states:  make(chan StateChange, 8),
		offers:  make(chan JoinOffer, 4),
	}
	t.Cleanup(func() {
		mgr.Shutdown()
		pair.Shutdown()
	})
	t.Cleanup(h.peer.ListenToRequests(h.peerReq))
	t.Cleanup(mgr.ListenToState(h.states))
	t.Cleanup(mgr.ListenToJoinOffers(h.offers))
	return h
}

func (h *harness) waitState(to State) StateChange {
	h.t.Helper()
	for {
		select {
		case change := <-h.states:
			if change.To == to {
				return change
			}
		case <-time.After(time.Second):
			h.t.Fatalf("timeout waiting for transition to %s", to)
		}
	}
}

func (h *harness) waitPeerRequest(msgType companion.MessageType) companion.Incoming {
	h.t.Helper()
	for {
		select {
		case in := <-h.peerReq:
			if in.Msg.Type() == msgType {
				return in
			}
			in.Reply(companion.Ack{Success: true})
		case <-time.After(time.Second):
			h.t.Fatalf("timeout waiting for peer request %s", msgType)
		}
	}
}

func (h *harness) sendToManager(msg companion.Message) companion.Ack {
	h.t.Helper()
	r := h.peer.SendRequest(context.Background(), msg, time.Second)
	require.Equal(h.t, companion.OutcomeReply, r.Outcome)
	ack, ok := r.Reply.(companion.Ack)
	require.True(h.t, ok, "reply was %T", r.Reply)
	return ack
}

func TestManager_LocalLifecycleMirrorsToPeer(t *testing.T) {
	arch := newCaptureArchiver()
	h := newHarness(t, Options{Archiver: arch})

	require.NoError(t, h.mgr.Start(ModeOutdoor))
	change := h.waitState(StateRunning)
	workoutID := change.Session.ID
	require.NotEmpty(t, workoutID)

	start := h.waitPeerRequest(companion.TypeStartWorkout)
	assert.Equal(t, workoutID, start.Msg.(companion.StartWorkout).WorkoutID)
	start.Reply(companion.Ack{Success: true})

	require.NoError(t, h.mgr.Pause())
	h.waitState(StatePaused)
	h.waitPeerRequest(companion.TypePauseWorkout).Reply(companion.Ack{Success: true})

	require.NoError(t, h.mgr.Resume())
	h.waitState(StateRunning)
	h.waitPeerRequest(companion.TypeResumeWorkout).Reply(companion.Ack{Success: true})

	require.NoError(t, h.mgr.End())
	h.waitState(StateCompleted)
	h.waitPeerRequest(companion.TypeEndWorkout).Reply(companion.Ack{Success: true})

	select {
	case saved := <-arch.saved:
		assert.Equal(t, workoutID, saved.ID)
		assert.Equal(t, StateCompleted, saved.State)
	case <-time.After(time.Second):
		t.Fatal("completed session not archived")
	}
}

func TestManager_CommandPreconditions(t *testing.T) {
	h := newHarness(t, Options{})

	assert.ErrorIs(t, h.mgr.Pause(), ErrInvalidState)
	assert.ErrorIs(t, h.mgr.Resume(), ErrInvalidState)
	assert.ErrorIs(t, h.mgr.End(), ErrInvalidState)

	require.NoError(t, h.mgr.Start(ModeOutdoor))
	h.waitState(StateRunning)
	assert.ErrorIs(t, h.mgr.Start(ModeOutdoor), ErrInvalidState)
	assert.ErrorIs(t, h.mgr.Resume(), ErrInvalidState)
}

func TestManager_JoinOfferedOncePerRemoteSession(t *testing.T) {
	h := newHarness(t, Options{})

	push := func(elapsed float64) {
		require.NoError(t, h.peer.PushContext(remoteSync("w-1", "running", elapsed)))
	}

	push(600)
	var offer JoinOffer
	select {
	case offer = <-h.offers:
	case <-time.After(time.Second):
		t.Fatal("no join offer surfaced")
	}
	assert.Equal(t, "w-1", offer.WorkoutID)
	assert.Equal(t, 600.0, offer.ElapsedSeconds)

	push(610)
	push(620)
	select {
	case extra := <-h.offers:
		t.Fatalf("second offer for the same remote session: %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestManager_AcceptJoinSeedsSessionWholesale(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.peer.PushContext(remoteSync("w-1", "running", 600)))
	var offer JoinOffer
	select {
	case offer = <-h.offers:
	case <-time.After(time.Second):
		t.Fatal("no join offer surfaced")
	}

	require.NoError(t, h.mgr.AcceptJoin(offer.OfferID))
	change := h.waitState(StateRunning)
	assert.Equal(t, StateNotStarted, change.From)

	s := h.mgr.Session()
	assert.Equal(t, "w-1", s.ID)
	assert.Equal(t, StateRunning, s.State)
	assert.Equal(t, 1200.0, s.Metrics.Get(MetricDistance))
	assert.InDelta(t, 600.0, s.ElapsedSeconds, 2.0)

	confirm := h.waitPeerRequest(companion.TypeJoinConfirmation)
	assert.Equal(t, "w-1", confirm.Msg.(companion.JoinConfirmation).WorkoutID)
	confirm.Reply(companion.Ack{Success: true})
}

func TestManager_AcceptJoinWithStaleOfferFails(t *testing.T) {
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.mgr.AcceptJoin("no-such-offer"), ErrInvalidState)
}

func TestManager_RemoteCommandsRunThroughSameChecks(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.mgr.Start(ModeOutdoor))
	change := h.waitState(StateRunning)
	workoutID := change.Session.ID

	ack := h.sendToManager(companion.PauseWorkout{WorkoutID: workoutID})
	assert.True(t, ack.Success)
	assert.Equal(t, "paused", ack.State)

	// A duplicate remote pause is rejected with the closed-set wire error.
	ack = h.sendToManager(companion.PauseWorkout{WorkoutID: workoutID})
	assert.False(t, ack.Success)
	assert.Equal(t, "InvalidState", ack.Error)
	assert.Equal(t, "paused", ack.State)

	ack = h.sendToManager(companion.EndWorkout{WorkoutID: "other-workout"})
	assert.False(t, ack.Success)
	assert.Equal(t, "MismatchedWorkoutId", ack.Error)

	ack = h.sendToManager(companion.ResumeWorkout{WorkoutID: workoutID})
	assert.True(t, ack.Success)
	ack = h.sendToManager(companion.EndWorkout{WorkoutID: workoutID})
	assert.True(t, ack.Success)
	assert.Equal(t, "completed", ack.State)
}

func TestManager_RequestActiveWorkoutReplies(t *testing.T) {
	h := newHarness(t, Options{})

	// Idle: a bare acknowledgment, not a session payload.
	r := h.peer.SendRequest(context.Background(), companion.RequestActiveWorkout{}, time.Second)
	require.Equal(t, companion.OutcomeReply, r.Outcome)
	ack, ok := r.Reply.(companion.Ack)
	require.True(t, ok, "reply was %T", r.Reply)
	assert.True(t, ack.Success)
	assert.Equal(t, "notStarted", ack.State)

	require.NoError(t, h.mgr.Start(ModeIndoor))
	h.waitState(StateRunning)

	r = h.peer.SendRequest(context.Background(), companion.RequestActiveWorkout{}, time.Second)
	require.Equal(t, companion.OutcomeReply, r.Outcome)
	sync, ok := r.Reply.(companion.SyncMetrics)
	require.True(t, ok, "reply was %T", r.Reply)
	assert.Equal(t, "running", sync.State)
	assert.True(t, sync.IsIndoor)
}

func TestManager_LocalMetricsMerged(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.mgr.Start(ModeOutdoor))
	h.waitState(StateRunning)
	h.mgr.SetLocalSignalQuality(true)

	h.mgr.ApplyLocalMetrics(MetricData{MetricDistance: 42, MetricHeartRate: 120})

	require.Eventually(t, func() bool {
		return h.mgr.Session().Metrics.Get(MetricDistance) == 42
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 120.0, h.mgr.Session().Metrics.Get(MetricHeartRate))
}

func TestManager_RemoteMetricsArbitratedPerField(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.mgr.Start(ModeOutdoor))
	h.waitState(StateRunning)
	h.mgr.SetLocalSignalQuality(true)
	workoutID := h.mgr.Session().ID

	h.mgr.ApplyLocalMetrics(MetricData{MetricDistance: 500})
	require.Eventually(t, func() bool {
		return h.mgr.Session().Metrics.Get(MetricDistance) == 500
	}, time.Second, 10*time.Millisecond)

	// Remote batch: heart rate is remote-owned once the peer is actively
	// tracking, distance stays with the good local fix.
	sync := remoteSync(workoutID, "running", 30)
	sync.Distance = 9999
	sync.HeartRate = 155
	require.NoError(t, h.peer.PushContext(sync))

	require.Eventually(t, func() bool {
		return h.mgr.Session().Metrics.Get(MetricHeartRate) == 155
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 500.0, h.mgr.Session().Metrics.Get(MetricDistance))
}

func TestManager_RemoteCompletionConverges(t *testing.T) {
	arch := newCaptureArchiver()
	h := newHarness(t, Options{Archiver: arch})

	require.NoError(t, h.mgr.Start(ModeOutdoor))
	h.waitState(StateRunning)
	workoutID := h.mgr.Session().ID

	require.NoError(t, h.peer.PushContext(remoteSync(workoutID, "completed", 300)))
	h.waitState(StateCompleted)

	select {
	case saved := <-arch.saved:
		assert.Equal(t, workoutID, saved.ID)
	case <-time.After(time.Second):
		t.Fatal("converged completion not archived")
	}
}

func TestManager_ShutdownRejectsCommands(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.mgr.Start(ModeOutdoor))
	h.waitState(StateRunning)

	h.mgr.Shutdown()
	assert.ErrorIs(t, h.mgr.Pause(), ErrEngineUnavailable)
	assert.ErrorIs(t, h.mgr.Start(ModeOutdoor), ErrEngineUnavailable)

	// Getters keep answering with the frozen final state.
	assert.Equal(t, StateRunning, h.mgr.Session().State)
}
