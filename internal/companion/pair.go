package companion

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pacelink/pacelink-app/internal/events"
)

// Pair is an in-memory Transport pair simulating the store-and-forward link
// between the two devices: configurable one-way latency, random message loss,
// and a reachability toggle. Used by tests and the in-process demo.
type Pair struct {
	logger *log.Logger

	mu      sync.Mutex
	up      bool
	closed  bool
	latency time.Duration
	drop    float64
	rng     *rand.Rand

	a, b *PairEnd
}

// PairEnd is one side of a Pair and implements Transport.
type PairEnd struct {
	pair *Pair
	name string
	peer *PairEnd

	reachEvent   *events.ChannelEvent[bool]
	requestEvent *events.ChannelEvent[Incoming]
	contextEvent *events.ChannelEvent[Message]

	// Sequence of context pushes destined for this end. A push delivers only
	// if it is still the newest when its latency elapses - last write wins.
	ctxSeq atomic.Uint64
}

var _ Transport = (*PairEnd)(nil)

// NewPair creates a linked pair of transports, initially reachable with no
// latency and no loss.
func NewPair(logger *log.Logger) *Pair {
	if logger == nil {
		panic("Pair: logger cannot be nil")
	}
	p := &Pair{
		logger: logger,
		up:     true,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	p.a = newPairEnd(p, "a")
	p.b = newPairEnd(p, "b")
	p.a.peer = p.b
	p.b.peer = p.a
	return p
}

func newPairEnd(p *Pair, name string) *PairEnd {
	return &PairEnd{
		pair:         p,
		name:         name,
		reachEvent:   events.NewChannelEvent[bool](true),
		requestEvent: events.NewChannelEvent[Incoming](false),
		contextEvent: events.NewChannelEvent[Message](false),
	}
}

// Ends returns the two transport ends.
func (p *Pair) Ends() (*PairEnd, *PairEnd) { return p.a, p.b }

// SetLinkUp toggles reachability for both ends.
func (p *Pair) SetLinkUp(up bool) {
	p.mu.Lock()
	changed := p.up != up
	p.up = up
	p.mu.Unlock()

	if changed {
		p.logger.Printf("Pair: link up=%v", up)
		p.a.reachEvent.Notify(up)
		p.b.reachEvent.Notify(up)
	}
}

// SetLatency sets the one-way delivery delay.
func (p *Pair) SetLatency(d time.Duration) {
	p.mu.Lock()
	p.latency = d
	p.mu.Unlock()
}

// SetDropRate sets the probability in [0,1] that any single delivery
// (request, reply, or context push) is lost.
func (p *Pair) SetDropRate(rate float64) {
	p.mu.Lock()
	p.drop = rate
	p.mu.Unlock()
}

// Shutdown closes both ends. Further sends fail with ErrNotActivated.
func (p *Pair) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.up = false
	p.mu.Unlock()

	p.a.reachEvent.Notify(false)
	p.b.reachEvent.Notify(false)
}

// snapshot returns the link parameters plus a per-delivery drop decision.
func (p *Pair) snapshot() (up, closed bool, latency time.Duration, dropped func() bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	up, closed, latency = p.up, p.closed, p.latency
	drop := p.drop
	rng := p.rng
	dropped = func() bool {
		if drop <= 0 {
			return false
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return rng.Float64() < drop
	}
	return
}

// SendRequest delivers msg to the peer and waits for the first of
// reply/timeout/error/cancel.
func (e *PairEnd) SendRequest(ctx context.Context, msg Message, timeout time.Duration) Result {
	up, closed, latency, dropped := e.pair.snapshot()
	if closed {
		return Result{Outcome: OutcomeError, Err: ErrNotActivated}
	}
	if !up {
		return Result{Outcome: OutcomeError, Err: ErrNotReachable}
	}

	op := NewOperation(timeout)

	if dropped() {
		// Request lost in transit: the timeout branch will fire.
		e.pair.logger.Printf("Pair[%s]: dropped %s request", e.name, msg.Type())
		return op.Wait(ctx)
	}

	peer := e.peer
	time.AfterFunc(latency, func() {
		peer.requestEvent.Notify(Incoming{
			Msg: msg,
			Reply: func(reply Message) {
				if dropped() {
					e.pair.logger.Printf("Pair[%s]: dropped %s reply", e.name, reply.Type())
					return
				}
				time.AfterFunc(latency, func() {
					op.Succeed(reply)
				})
			},
		})
	})

	return op.Wait(ctx)
}

// PushContext delivers msg best-effort. A newer push supersedes an undelivered
// older one.
func (e *PairEnd) PushContext(msg Message) error {
	up, closed, latency, dropped := e.pair.snapshot()
	if closed {
		return ErrNotActivated
	}
	if !up {
		// Context pushes are store-and-forward in the real channel; the pair
		// models an unreachable peer as silent loss, not an error.
		return nil
	}
	if dropped() {
		return nil
	}

	peer := e.peer
	seq := peer.ctxSeq.Add(1)
	time.AfterFunc(latency, func() {
		if peer.ctxSeq.Load() != seq {
			return // superseded by a newer push
		}
		peer.contextEvent.Notify(msg)
	})
	return nil
}

// Reachable reports whether the link is up.
func (e *PairEnd) Reachable() bool {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.pair.up && !e.pair.closed
}

// ListenToReachability registers a channel for link state changes.
func (e *PairEnd) ListenToReachability(ch chan<- bool) func() {
	return e.reachEvent.Listen(ch)
}

// ListenToRequests registers a channel for incoming peer requests.
func (e *PairEnd) ListenToRequests(ch chan<- Incoming) func() {
	return e.requestEvent.Listen(ch)
}

// ListenToContext registers a channel for incoming context pushes.
func (e *PairEnd) ListenToContext(ch chan<- Message) func() {
	return e.contextEvent.Listen(ch)
}

// Shutdown closes the whole pair; the link handle is process-wide.
func (e *PairEnd) Shutdown() {
	e.pair.Shutdown()
}
