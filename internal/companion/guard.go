package companion

import (
	"context"
	"sync/atomic"
	"time"
)

// CompletionGuard ensures that exactly one of several racing completion paths
// wins. The zero value is ready to use.
type CompletionGuard struct {
	state atomic.Int32 // 0 = open, otherwise int32(Outcome)
}

// Complete attempts to settle the guard with the given outcome.
// Returns true if this call won; false if the guard was already settled.
func (g *CompletionGuard) Complete(o Outcome) bool {
	return g.state.CompareAndSwap(0, int32(o))
}

// Settled reports whether any outcome has fired, and which.
func (g *CompletionGuard) Settled() (Outcome, bool) {
	v := g.state.Load()
	return Outcome(v), v != 0
}

// Operation is one in-flight timeout-bounded request. It couples a
// CompletionGuard with a deadline timer so that of {reply, timeout, error,
// cancel} exactly one branch delivers the Result.
type Operation struct {
	guard  CompletionGuard
	timer  *time.Timer
	result chan Result
}

// NewOperation creates an operation whose timeout branch fires after d.
func NewOperation(d time.Duration) *Operation {
	op := &Operation{
		result: make(chan Result, 1),
	}
	op.timer = time.AfterFunc(d, func() {
		op.settle(Result{Outcome: OutcomeTimedOut})
	})
	return op
}

func (op *Operation) settle(r Result) bool {
	if !op.guard.Complete(r.Outcome) {
		return false
	}
	op.timer.Stop()
	op.result <- r
	return true
}

// Succeed delivers a reply. Returns false if the operation already settled
// (a late reply racing a fired timeout is discarded here).
func (op *Operation) Succeed(reply Message) bool {
	return op.settle(Result{Outcome: OutcomeReply, Reply: reply})
}

// Fail delivers a transport error.
func (op *Operation) Fail(err error) bool {
	return op.settle(Result{Outcome: OutcomeError, Err: err})
}

// Cancel pre-empts the operation, forcing the dedicated cancelled branch.
func (op *Operation) Cancel() bool {
	return op.settle(Result{Outcome: OutcomeCancelled})
}

// Wait blocks until the operation settles. Context cancellation forces the
// cancelled branch; the operation is never silently dropped.
func (op *Operation) Wait(ctx context.Context) Result {
	select {
	case r := <-op.result:
		return r
	case <-ctx.Done():
		if op.Cancel() {
			return Result{Outcome: OutcomeCancelled}
		}
		// Lost the race: a real outcome settled first, return it.
		return <-op.result
	}
}
