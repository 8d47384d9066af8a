package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pacelink/pacelink-app/internal/companion"
	"github.com/pacelink/pacelink-app/internal/events"
	"github.com/pacelink/pacelink-app/internal/go_func_utils"
	"github.com/pacelink/pacelink-app/internal/obs"
)

// Archiver persists a completed session. Implementations must tolerate being
// called from a worker goroutine.
type Archiver interface {
	SaveCompleted(ctx context.Context, s WorkoutSession) error
}

// Params tunes the manager's periodic work.
type Params struct {
	// TickPeriod is the cadence of local elapsed-time accumulation.
	TickPeriod time.Duration
	// SyncInterval is the cadence of full-state synchronization with the peer.
	SyncInterval time.Duration
	// RequestTimeout bounds every request/reply exchange with the peer.
	RequestTimeout time.Duration
	// RemoteActiveWindow is how long after the last remote report the peer is
	// still considered actively tracking.
	RemoteActiveWindow time.Duration

	TimeSync  TimeSyncParams
	Heartbeat HeartbeatParams
}

// DefaultParams returns the tuning used in production.
func DefaultParams() Params {
	return Params{
		TickPeriod:         time.Second,
		SyncInterval:       5 * time.Second,
		RequestTimeout:     2 * time.Second,
		RemoteActiveWindow: 10 * time.Second,
		TimeSync: TimeSyncParams{
			TickIncrement:      1.0,
			DriftThreshold:     0.75,
			CorrectionFraction: 0.25,
			LargeJumpThreshold: 3.0,
			TransitionDuration: 2 * time.Second,
		},
		Heartbeat: HeartbeatParams{
			Period:  5 * time.Second,
			Timeout: time.Second,
			Backoff: 10 * time.Second,
		},
	}
}

// Options configures a Manager beyond its required dependencies.
type Options struct {
	// Role names this device ("phone" or "watch") in logs and join replies.
	Role     string
	Params   Params
	Archiver Archiver
	Stats    *obs.Metrics
	Now      func() time.Time
}

// Inbox events. The run loop's select is the single serialization point for
// all session state; every mutation arrives as one of these.
type evCommand struct {
	kind  CommandKind
	mode  Mode
	reply chan error
}

type evLocalMetrics struct{ data MetricData }

type evRemoteSync struct{ msg companion.SyncMetrics }

type evSignalQuality struct{ good bool }

type evHeartbeatResult struct{ ok bool }

type evJoinDecision struct {
	offerID string
	accept  bool
	reply   chan error
}

type evGetSession struct{ reply chan WorkoutSession }

type evGetDisplayed struct{ reply chan float64 }

type evShutdown struct{}

// Manager owns the workout session. All state lives on a single run-loop
// goroutine; public methods hand events to it and never touch the state
// directly, so no session field is ever read and written concurrently.
type Manager struct {
	logger    *log.Logger
	params    Params
	role      string
	transport companion.Transport
	archiver  Archiver
	stats     *obs.Metrics
	now       func() time.Time

	inbox  chan any
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	stop   sync.Once

	// Run-loop-owned state. Never accessed off the loop.
	machine      *Machine
	merger       *Merger
	timeSync     *TimeSync
	heartbeat    *Heartbeat
	join         *JoinCoordinator
	goodSignal   bool
	reachable    bool
	remoteSeenAt time.Time
	// remoteElapsed marks the peer's clock as the session's time authority,
	// set when this device joined a session the peer started.
	remoteElapsed bool
	finalSession  WorkoutSession

	stateEvent        *events.ChannelEvent[StateChange]
	metricsEvent      *events.ChannelEvent[MetricsSnapshot]
	joinEvent         *events.ChannelEvent[JoinOffer]
	reachabilityEvent *events.ChannelEvent[bool]
}

// NewManager creates a Manager and starts its run loop.
func NewManager(logger *log.Logger, transport companion.Transport, opts Options) *Manager {
	if logger == nil {
		panic("Manager: logger cannot be nil")
	}
	if transport == nil {
		panic("Manager: transport cannot be nil")
	}
	if opts.Params.TickPeriod == 0 {
		opts.Params = DefaultParams()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Role == "" {
		opts.Role = "phone"
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:    logger,
		params:    opts.Params,
		role:      opts.Role,
		transport: transport,
		archiver:  opts.Archiver,
		stats:     opts.Stats,
		now:       opts.Now,
		inbox:     make(chan any, 64),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,

		machine:   NewMachine(logger, opts.Now),
		merger:    NewMerger(logger),
		timeSync:  NewTimeSync(logger, opts.Params.TimeSync, opts.Now),
		heartbeat: NewHeartbeat(logger, opts.Params.Heartbeat, opts.Now),
		join:      NewJoinCoordinator(logger),
		reachable: transport.Reachable(),

		stateEvent:        events.NewChannelEvent[StateChange](true),
		metricsEvent:      events.NewChannelEvent[MetricsSnapshot](true),
		joinEvent:         events.NewChannelEvent[JoinOffer](false),
		reachabilityEvent: events.NewChannelEvent[bool](true),
	}

	go_func_utils.SafeGo(logger, m.run)
	return m
}

// ListenToState registers a channel for session state transitions.
func (m *Manager) ListenToState(ch chan<- StateChange) func() {
	return m.stateEvent.Listen(ch)
}

// ListenToMetrics registers a channel for arbitrated snapshot replacements.
func (m *Manager) ListenToMetrics(ch chan<- MetricsSnapshot) func() {
	return m.metricsEvent.Listen(ch)
}

// ListenToJoinOffers registers a channel for join offers.
func (m *Manager) ListenToJoinOffers(ch chan<- JoinOffer) func() {
	return m.joinEvent.Listen(ch)
}

// ListenToReachability registers a channel for peer reachability changes.
func (m *Manager) ListenToReachability(ch chan<- bool) func() {
	return m.reachabilityEvent.Listen(ch)
}

func (m *Manager) post(ev any) bool {
	select {
	case m.inbox <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) command(kind CommandKind, mode Mode) error {
	reply := make(chan error, 1)
	if !m.post(evCommand{kind: kind, mode: mode, reply: reply}) {
		return ErrEngineUnavailable
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrEngineUnavailable
	}
}

// Start begins a new local session.
func (m *Manager) Start(mode Mode) error { return m.command(CommandStart, mode) }

// Pause suspends the current session.
func (m *Manager) Pause() error { return m.command(CommandPause, 0) }

// Resume continues the current session.
func (m *Manager) Resume() error { return m.command(CommandResume, 0) }

// End completes the current session.
func (m *Manager) End() error { return m.command(CommandEnd, 0) }

// ApplyLocalMetrics feeds one batch of locally sensed readings.
func (m *Manager) ApplyLocalMetrics(data MetricData) {
	m.post(evLocalMetrics{data: data})
}

// SetLocalSignalQuality reports whether the local positioning signal is good.
func (m *Manager) SetLocalSignalQuality(good bool) {
	m.post(evSignalQuality{good: good})
}

// AcceptJoin adopts the offered remote session.
func (m *Manager) AcceptJoin(offerID string) error {
	reply := make(chan error, 1)
	if !m.post(evJoinDecision{offerID: offerID, accept: true, reply: reply}) {
		return ErrEngineUnavailable
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrEngineUnavailable
	}
}

// DeclineJoin dismisses the offered remote session. The same remote session
// is not offered again.
func (m *Manager) DeclineJoin(offerID string) {
	m.post(evJoinDecision{offerID: offerID, accept: false})
}

// Session returns a copy of the current session.
func (m *Manager) Session() WorkoutSession {
	reply := make(chan WorkoutSession, 1)
	if !m.post(evGetSession{reply: reply}) {
		return m.finalSession
	}
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return m.finalSession
	}
}

// DisplayedElapsed returns the smoothed elapsed seconds for display.
func (m *Manager) DisplayedElapsed() float64 {
	reply := make(chan float64, 1)
	if !m.post(evGetDisplayed{reply: reply}) {
		return m.finalSession.ElapsedSeconds
	}
	select {
	case v := <-reply:
		return v
	case <-m.done:
		return m.finalSession.ElapsedSeconds
	}
}

// Shutdown stops the run loop and waits for it to exit. Idempotent. After
// shutdown every command returns ErrEngineUnavailable.
func (m *Manager) Shutdown() {
	m.stop.Do(func() {
		select {
		case m.inbox <- evShutdown{}:
		case <-m.done:
		}
	})
	<-m.done
}

// run is the serialization goroutine.
func (m *Manager) run() {
	m.logger.Printf("Manager[%s]: run loop started", m.role)

	reqCh := make(chan companion.Incoming, 16)
	ctxCh := make(chan companion.Message, 16)
	reachCh := make(chan bool, 4)
	unsubReq := m.transport.ListenToRequests(reqCh)
	unsubCtx := m.transport.ListenToContext(ctxCh)
	unsubReach := m.transport.ListenToReachability(reachCh)

	tick := time.NewTicker(m.params.TickPeriod)
	syncTick := time.NewTicker(m.params.SyncInterval)
	beat := time.NewTicker(m.params.Heartbeat.Period)

	defer func() {
		tick.Stop()
		syncTick.Stop()
		beat.Stop()
		unsubReq()
		unsubCtx()
		unsubReach()
		m.cancel()
		m.finalSession = m.machine.Session()
		close(m.done)
		m.logger.Printf("Manager[%s]: run loop stopped", m.role)
	}()

	for {
		select {
		case <-tick.C:
			m.handleTick()
		case <-syncTick.C:
			m.handleSyncTick()
		case <-beat.C:
			m.handleHeartbeatTick()
		case in := <-reqCh:
			m.handleIncoming(in.Msg, in.Reply)
		case msg := <-ctxCh:
			m.handleIncoming(msg, nil)
		case up := <-reachCh:
			m.handleReachability(up)
		case ev := <-m.inbox:
			if _, ok := ev.(evShutdown); ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) handleEvent(ev any) {
	switch e := ev.(type) {
	case evCommand:
		e.reply <- m.handleCommand(e.kind, e.mode)
	case evLocalMetrics:
		m.mergeMetrics(SourceLocal, e.data)
	case evRemoteSync:
		m.handleRemoteSync(e.msg)
	case evSignalQuality:
		m.goodSignal = e.good
	case evHeartbeatResult:
		m.heartbeat.MarkResult(e.ok)
	case evJoinDecision:
		err := m.handleJoinDecision(e.offerID, e.accept)
		if e.reply != nil {
			e.reply <- err
		}
	case evGetSession:
		e.reply <- m.machine.Session()
	case evGetDisplayed:
		e.reply <- m.timeSync.Displayed()
	default:
		m.logger.Printf("Manager[%s]: dropping unknown inbox event %T", m.role, ev)
	}
}

func (m *Manager) remoteActive() bool {
	return !m.remoteSeenAt.IsZero() && m.now().Sub(m.remoteSeenAt) <= m.params.RemoteActiveWindow
}

func (m *Manager) authority() AuthorityTable {
	return ComputeAuthority(m.machine.Session().Mode, m.goodSignal, m.remoteActive())
}

// applyTransition publishes a successful state change and keeps the dependent
// components in step with it.
func (m *Manager) applyTransition(t Transition) {
	m.join.LocalStateChanged(t.To)
	m.stats.SessionState(int(t.To))

	switch t.To {
	case StateRunning:
		if t.From == StateNotStarted || t.From == StateCompleted {
			m.timeSync.Anchor(t.Session.ElapsedSeconds)
		}
	case StateCompleted:
		m.timeSync.Anchor(t.Session.ElapsedSeconds)
		m.remoteElapsed = false
		m.archive(t.Session)
	}

	m.stateEvent.Notify(StateChange{From: t.From, To: t.To, Session: t.Session})
}

func (m *Manager) archive(s WorkoutSession) {
	if m.archiver == nil {
		return
	}
	go_func_utils.SafeGo(m.logger, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.archiver.SaveCompleted(ctx, s); err != nil {
			m.logger.Printf("Manager[%s]: archiving session %s failed: %v", m.role, s.ID, err)
		}
	})
}

func (m *Manager) handleCommand(kind CommandKind, mode Mode) error {
	var (
		t   Transition
		err error
	)
	switch kind {
	case CommandStart:
		t, err = m.machine.Start(mode)
	case CommandPause:
		t, err = m.machine.Pause("")
	case CommandResume:
		t, err = m.machine.Resume("")
	case CommandEnd:
		t, err = m.machine.End("")
	default:
		err = ErrInvalidState
	}
	if err != nil {
		m.logger.Printf("Manager[%s]: %s rejected: %v", m.role, kind, err)
		return err
	}

	if kind == CommandStart {
		m.remoteElapsed = false
	}
	m.applyTransition(t)
	m.mirrorCommand(kind, t.Session)
	return nil
}

// mirrorCommand informs the peer of a local transition. Delivery is
// best-effort: a miss here is repaired by the next periodic sync.
func (m *Manager) mirrorCommand(kind CommandKind, s WorkoutSession) {
	var msg companion.Message
	switch kind {
	case CommandStart:
		msg = companion.StartWorkout{
			WorkoutID: s.ID,
			IsIndoor:  s.Mode == ModeIndoor,
			StartDate: s.StartedAt,
		}
	case CommandPause:
		msg = companion.PauseWorkout{WorkoutID: s.ID}
	case CommandResume:
		msg = companion.ResumeWorkout{WorkoutID: s.ID}
	case CommandEnd:
		msg = companion.EndWorkout{WorkoutID: s.ID}
	}

	go_func_utils.SafeGo(m.logger, func() {
		r := m.transport.SendRequest(m.ctx, msg, m.params.RequestTimeout)
		m.stats.SendOutcome(r.Outcome.String())
		if r.Outcome != companion.OutcomeReply {
			m.logger.Printf("Manager[%s]: mirroring %s to peer: %s", m.role, kind, r.Outcome)
		}
	})
}

func (m *Manager) mergeMetrics(origin Source, data MetricData) {
	sess := m.machine.Session()
	if !sess.State.Active() {
		return
	}
	next := m.merger.Apply(sess.Metrics, m.authority(), origin, data, m.now())
	m.machine.SetMetrics(next)
	m.metricsEvent.Notify(next)
}

func (m *Manager) handleTick() {
	sess := m.machine.Session()
	running := sess.State == StateRunning
	if running && !m.remoteElapsed {
		m.machine.AdvanceElapsed(m.params.TimeSync.TickIncrement)
	}
	m.timeSync.Tick(running)
}

// handleSyncTick drives periodic reconciliation: an active session is pushed
// to the peer whole, an idle one probes whether the peer is tracking.
func (m *Manager) handleSyncTick() {
	sess := m.machine.Session()

	if sess.State.Active() {
		if !m.remoteElapsed {
			m.timeSync.Reconcile(sess.ElapsedSeconds, false)
		}
		if m.transport.Reachable() {
			if err := m.transport.PushContext(m.buildSync(sess)); err != nil {
				m.logger.Printf("Manager[%s]: sync push failed: %v", m.role, err)
			} else {
				m.stats.ContextPushed()
			}
		}
		return
	}

	if sess.State == StateNotStarted && m.transport.Reachable() && !m.remoteActive() {
		m.probeRemote()
	}
}

func (m *Manager) buildSync(s WorkoutSession) companion.SyncMetrics {
	return companion.SyncMetrics{
		WorkoutID:   s.ID,
		State:       s.State.String(),
		Distance:    s.Metrics.Get(MetricDistance),
		ElapsedTime: s.ElapsedSeconds,
		HeartRate:   s.Metrics.Get(MetricHeartRate),
		Calories:    s.Metrics.Get(MetricCalories),
		Cadence:     s.Metrics.Get(MetricCadence),
		Pace:        s.Metrics.Get(MetricPace),
		StepCount:   s.Metrics.Get(MetricStepCount),
		StartDate:   s.StartedAt,
		IsIndoor:    s.Mode == ModeIndoor,
	}
}

// probeRemote asks the peer whether it is tracking. A SyncMetrics reply feeds
// the join path; a bare acknowledgment means no active remote session and
// never arms an offer.
func (m *Manager) probeRemote() {
	go_func_utils.SafeGo(m.logger, func() {
		r := m.transport.SendRequest(m.ctx, companion.RequestActiveWorkout{}, m.params.RequestTimeout)
		m.stats.SendOutcome(r.Outcome.String())
		if r.Outcome != companion.OutcomeReply {
			return
		}
		if payload, ok := r.Reply.(companion.SyncMetrics); ok {
			m.post(evRemoteSync{msg: payload})
		}
	})
}

func (m *Manager) handleHeartbeatTick() {
	sess := m.machine.Session()
	ok, reason := m.heartbeat.ShouldSend(sess.State, m.transport.Reachable())
	if !ok {
		m.stats.HeartbeatSkipped(reason)
		return
	}

	fields := sess.Metrics.Fields()
	fields.ElapsedTime = sess.ElapsedSeconds
	msg := companion.HeartbeatResponse{
		State:     sess.State.String(),
		WorkoutID: sess.ID,
		Metrics:   fields,
	}

	m.heartbeat.MarkSent()
	m.stats.HeartbeatSent()
	go_func_utils.SafeGo(m.logger, func() {
		r := m.transport.SendRequest(m.ctx, msg, m.params.Heartbeat.Timeout)
		m.stats.SendOutcome(r.Outcome.String())
		m.post(evHeartbeatResult{ok: r.Outcome == companion.OutcomeReply})
	})
}

func (m *Manager) handleReachability(up bool) {
	if up == m.reachable {
		return
	}
	m.reachable = up
	m.logger.Printf("Manager[%s]: peer reachable=%v", m.role, up)
	m.reachabilityEvent.Notify(up)
}

// handleIncoming dispatches a peer message. reply is nil for context pushes.
func (m *Manager) handleIncoming(msg companion.Message, reply func(companion.Message)) {
	ack := func(err error) {
		if reply == nil {
			return
		}
		reply(companion.Ack{
			Success: err == nil,
			Error:   WireError(err),
			State:   m.machine.State().String(),
		})
	}

	switch p := msg.(type) {
	case companion.RequestActiveWorkout:
		sess := m.machine.Session()
		if reply == nil {
			return
		}
		if sess.State.Active() {
			reply(m.buildSync(sess))
			return
		}
		// No active session here; a bare ack tells the peer exactly that.
		reply(companion.Ack{Success: true, State: sess.State.String()})

	case companion.StartWorkout:
		m.markRemoteSeen()
		m.handleRemoteSync(companion.SyncMetrics{
			WorkoutID: p.WorkoutID,
			State:     StateRunning.String(),
			StartDate: p.StartDate,
			IsIndoor:  p.IsIndoor,
		})
		ack(nil)

	case companion.PauseWorkout:
		m.markRemoteSeen()
		_, err := m.applyRemoteCommand(CommandPause, p.WorkoutID)
		ack(err)

	case companion.ResumeWorkout:
		m.markRemoteSeen()
		_, err := m.applyRemoteCommand(CommandResume, p.WorkoutID)
		ack(err)

	case companion.EndWorkout:
		m.markRemoteSeen()
		_, err := m.applyRemoteCommand(CommandEnd, p.WorkoutID)
		ack(err)

	case companion.SyncMetrics:
		m.handleRemoteSync(p)
		ack(nil)

	case companion.HeartbeatResponse:
		m.handleRemoteHeartbeat(p)
		ack(nil)

	case companion.JoinConfirmation:
		m.logger.Printf("Manager[%s]: peer (%s) joined session %s", m.role, p.PhoneState, p.WorkoutID)
		m.markRemoteSeen()
		ack(nil)

	case companion.Ack:
		// Bare acknowledgment: carries no session payload, proves nothing
		// about an active remote session.

	default:
		m.logger.Printf("Manager[%s]: dropping unhandled peer message %s", m.role, msg.Type())
	}
}

func (m *Manager) markRemoteSeen() {
	m.remoteSeenAt = m.now()
}

// applyRemoteCommand runs a peer-issued transition through the same machine
// and identity checks as local commands.
func (m *Manager) applyRemoteCommand(kind CommandKind, workoutID string) (Transition, error) {
	var (
		t   Transition
		err error
	)
	switch kind {
	case CommandPause:
		t, err = m.machine.Pause(workoutID)
	case CommandResume:
		t, err = m.machine.Resume(workoutID)
	case CommandEnd:
		t, err = m.machine.End(workoutID)
	default:
		err = ErrInvalidState
	}
	if err != nil {
		m.logger.Printf("Manager[%s]: remote %s rejected: %v", m.role, kind, err)
		return Transition{}, err
	}
	m.applyTransition(t)
	return t, nil
}

// handleRemoteSync folds a full remote state report into local state: it can
// arm a join offer, merge metrics, reconcile time, and mirror a remote
// completion.
func (m *Manager) handleRemoteSync(p companion.SyncMetrics) {
	remoteState := StateFromString(p.State)
	if remoteState.Active() {
		m.markRemoteSeen()
	}

	sess := m.machine.Session()

	if sess.State == StateNotStarted {
		if offer, ok := m.join.Observe(sess.State, p, m.now()); ok {
			m.stats.JoinOffered()
			m.joinEvent.Notify(offer)
		}
		return
	}

	if p.WorkoutID != "" && sess.ID != "" && p.WorkoutID != sess.ID {
		m.logger.Printf("Manager[%s]: ignoring sync for foreign session %s", m.role, p.WorkoutID)
		return
	}

	if remoteState == StateCompleted && sess.State.Active() {
		// The peer already completed this session; converge instead of
		// tracking a ghost.
		if t, err := m.machine.End(p.WorkoutID); err == nil {
			m.applyTransition(t)
		}
		return
	}

	if sess.State == StateCompleted && remoteState.Active() {
		// The peer missed the completion, push the final state back so it
		// converges on its next pickup.
		if err := m.transport.PushContext(m.buildSync(sess)); err == nil {
			m.stats.ContextPushed()
		}
		return
	}

	if sess.State.Active() && remoteState.Active() {
		m.mergeMetrics(SourceRemote, remoteFields(p))
		if m.remoteElapsed {
			m.machine.SetElapsed(p.ElapsedTime)
			m.timeSync.Reconcile(p.ElapsedTime, true)
		}
	}
}

func (m *Manager) handleRemoteHeartbeat(p companion.HeartbeatResponse) {
	if StateFromString(p.State).Active() {
		m.markRemoteSeen()
	}
	sess := m.machine.Session()
	if !sess.State.Active() || (p.WorkoutID != "" && p.WorkoutID != sess.ID) {
		return
	}
	m.mergeMetrics(SourceRemote, heartbeatFields(p.Metrics))
	if m.remoteElapsed && p.Metrics.ElapsedTime > 0 {
		m.machine.SetElapsed(p.Metrics.ElapsedTime)
		m.timeSync.Reconcile(p.Metrics.ElapsedTime, true)
	}
}

func (m *Manager) handleJoinDecision(offerID string, accept bool) error {
	if !accept {
		m.join.Decline(offerID)
		return nil
	}

	offer, ok := m.join.Take(offerID)
	if !ok {
		return ErrInvalidState
	}

	t, err := m.machine.Seed(offer.WorkoutID, offer.State, offer.Mode, offer.StartedAt, offer.ElapsedSeconds, offer.Metrics)
	if err != nil {
		return err
	}

	m.remoteElapsed = true
	m.timeSync.Anchor(offer.ElapsedSeconds)
	m.stats.JoinAccepted()
	m.applyTransition(t)
	m.metricsEvent.Notify(offer.Metrics)

	confirm := companion.JoinConfirmation{
		WorkoutType: offer.Mode.String(),
		Status:      "joined",
		PhoneState:  m.role,
		WorkoutID:   offer.WorkoutID,
	}
	go_func_utils.SafeGo(m.logger, func() {
		r := m.transport.SendRequest(m.ctx, confirm, m.params.RequestTimeout)
		m.stats.SendOutcome(r.Outcome.String())
	})
	return nil
}
