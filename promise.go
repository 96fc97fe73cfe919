package promise

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Result represents the value of a fulfilled or rejected promise. It can be
// any type: fulfillment values and rejection reasons alike are arbitrary
// values, and a rejection reason need not be an error.
type Result = any

// PromiseState represents the lifecycle state of a [Promise]. A promise
// starts [Pending] and transitions exactly once to either [Fulfilled] or
// [Rejected]; the transition is irreversible.
type PromiseState int32

const (
	// Pending indicates the promise has not yet settled.
	Pending PromiseState = iota

	// Fulfilled indicates the promise completed with a value.
	Fulfilled

	// Rejected indicates the promise failed with a reason.
	Rejected
)

const (
	// Resolved is an alias for [Fulfilled].
	Resolved = Fulfilled
)

// String returns the string representation of the promise state.
func (s PromiseState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ResolveFunc fulfills a promise with a value. Calling it on an already
// resolved promise has no effect. Safe from any goroutine.
type ResolveFunc func(Result)

// RejectFunc rejects a promise with a reason. Calling it on an already
// resolved promise has no effect. Safe from any goroutine.
type RejectFunc func(Result)

// Handler is a reaction callback attached via [Promise.Then] or
// [Promise.Catch]. Its return value settles the derived promise: a plain
// value fulfills it, a promise or [Thenable] is adopted, and a panic rejects
// it with a [PanicError].
type Handler func(Result) Result

// Executor is the function passed to [New]. It receives the two completion
// callbacks for the promise under construction and is itself executed as a
// job, so its side effects are ordered after the code that constructed the
// promise and before any reaction on it.
type Executor func(resolve ResolveFunc, reject RejectFunc)

// Promise is a deferred computation bound to a [Loop].
//
// Reactions attached via [Promise.Then], [Promise.Catch], and
// [Promise.Finally] always execute as jobs on the promise's loop, in
// attachment order, never synchronously from within the attaching call —
// even when the promise is already settled at attachment time.
//
// A Promise is safe for concurrent use: reactions may be attached and the
// completion callbacks invoked from any goroutine, though all of them
// observe their effects on the loop goroutine.
type Promise struct {
	loop *Loop

	// result holds the fulfillment value or rejection reason once settled.
	result Result

	// reactions attached while pending, in attachment order. Cleared on
	// settlement after their jobs are scheduled.
	reactions []reaction

	// channels registered via ToChannel while pending.
	channels []chan Result

	state atomic.Int32

	id uint64

	// resolved is set by the first call to a completion callback, including
	// a resolve that locks the promise onto a not-yet-settled thenable.
	resolved bool

	// handled is set once any reaction or channel observer is attached;
	// consulted by the unhandled-rejection checkpoint.
	handled bool

	mu sync.Mutex
}

// reaction is a (fulfillment handler, rejection handler) pair plus the
// derived promise it settles. Each field is independently optional: nil
// handlers pass the settlement through unchanged, and a nil child with
// non-nil handlers is an internal subscription with no derived promise.
type reaction struct {
	onFulfilled Handler
	onRejected  Handler
	child       *Promise
}

// New constructs a pending promise and schedules executor as a job on the
// loop. A panic inside the executor is caught and converted into a rejection
// wrapping the panic value; it never propagates to the constructing caller.
//
// A nil executor yields a promise that never settles. If the loop has been
// terminated the promise is rejected with [ErrLoopTerminated].
func New(l *Loop, executor Executor) *Promise {
	p := l.newPromise()
	if executor == nil {
		return p
	}
	if err := l.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.rejectReason(PanicError{Value: r})
			}
		}()
		executor(p.resolve, p.rejectReason)
	}); err != nil {
		p.rejectReason(err)
	}
	return p
}

// Resolve returns a promise fulfilled with value.
//
// A [*Promise] bound to the same loop is returned unchanged (identity
// passthrough). Any other promise or [Thenable] is adopted: the returned
// promise settles the same way the inner one eventually does. Plain values
// produce an immediately fulfilled promise.
func Resolve(l *Loop, value Result) *Promise {
	if pr, ok := value.(*Promise); ok && pr.loop == l {
		return pr
	}
	p := l.newPromise()
	p.resolve(value)
	return p
}

// Reject returns a promise rejected with reason.
//
// The reason is taken literally: unlike [Resolve], a promise or [Thenable]
// passed here becomes the rejection reason itself and is never unwrapped.
func Reject(l *Loop, reason Result) *Promise {
	p := l.newPromise()
	p.rejectReason(reason)
	return p
}

// State returns the current [PromiseState]. Safe from any goroutine.
func (p *Promise) State() PromiseState {
	return PromiseState(p.state.Load())
}

// Value returns the fulfillment value, or nil if the promise is pending or
// rejected. A fulfilled promise can legitimately hold a nil value.
func (p *Promise) Value() Result {
	// result is immutable once the atomic state leaves Pending.
	if p.State() == Fulfilled {
		return p.result
	}
	return nil
}

// Reason returns the rejection reason, or nil if the promise is pending or
// fulfilled.
func (p *Promise) Reason() Result {
	if p.State() == Rejected {
		return p.result
	}
	return nil
}

// Then attaches a reaction pair and returns the derived promise it settles.
// Either handler may be nil, in which case that branch passes the settlement
// through to the derived promise unchanged — this is how chains propagate
// past gaps.
func (p *Promise) Then(onFulfilled, onRejected Handler) *Promise {
	child := p.loop.newDerived()
	p.subscribe(reaction{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		child:       child,
	})
	return child
}

// Catch attaches a rejection handler. Equivalent to Then(nil, onRejected).
func (p *Promise) Catch(onRejected Handler) *Promise {
	return p.Then(nil, onRejected)
}

// Finally attaches a handler that runs regardless of how the promise
// settles. The derived promise settles identically to this one; onFinally
// receives no arguments and its return value (or panic) cannot change the
// outcome.
func (p *Promise) Finally(onFinally func()) *Promise {
	child := p.loop.newDerived()
	if onFinally == nil {
		onFinally = func() {}
	}
	run := func(state PromiseState) Handler {
		return func(res Result) Result {
			func() {
				// A cleanup panic must not swallow the original settlement.
				defer func() { _ = recover() }()
				onFinally()
			}()
			child.settle(state, res)
			return nil
		}
	}
	p.subscribe(reaction{
		onFulfilled: run(Fulfilled),
		onRejected:  run(Rejected),
	})
	return child
}

// Subscribe implements [Thenable]. Both callbacks are optional and are
// executed as jobs on the promise's loop, like any other reaction.
func (p *Promise) Subscribe(onFulfilled, onRejected func(Result)) {
	p.subscribe(reaction{
		onFulfilled: observerHandler(onFulfilled),
		onRejected:  observerHandler(onRejected),
	})
}

// observerHandler adapts a subscription callback to the Handler shape.
func observerHandler(fn func(Result)) Handler {
	if fn == nil {
		return nil
	}
	return func(v Result) Result {
		fn(v)
		return nil
	}
}

// ToChannel returns a channel that receives the settlement result (value or
// reason) and is then closed. If the promise is already settled the channel
// is pre-filled. The channel counts as an observer for unhandled-rejection
// reporting.
func (p *Promise) ToChannel() <-chan Result {
	ch := make(chan Result, 1)

	p.mu.Lock()
	p.handled = true
	state := PromiseState(p.state.Load())
	if state != Pending {
		result := p.result
		p.mu.Unlock()
		if state == Rejected {
			p.loop.untrackRejection(p)
		}
		ch <- result
		close(ch)
		return ch
	}
	p.channels = append(p.channels, ch)
	p.mu.Unlock()
	return ch
}

// subscribe attaches a reaction: appended while pending, scheduled as a job
// immediately when already settled. Never invokes handlers synchronously.
func (p *Promise) subscribe(r reaction) {
	p.mu.Lock()
	p.handled = true
	state := PromiseState(p.state.Load())
	if state == Pending {
		p.reactions = append(p.reactions, r)
		p.mu.Unlock()
		return
	}
	result := p.result
	p.mu.Unlock()

	if state == Rejected {
		p.loop.untrackRejection(p)
	}
	p.scheduleReaction(r, state, result)
}

// isHandled reports whether any reaction or channel observer was ever
// attached.
func (p *Promise) isHandled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handled
}

// resolve is the fulfillment completion callback. The first call to either
// completion callback wins; in particular, resolving with a pending thenable
// locks the promise onto that thenable even though settlement is deferred.
func (p *Promise) resolve(value Result) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.mu.Unlock()
	p.resolveValue(value)
}

// rejectReason is the rejection completion callback. The reason is recorded
// literally; no thenable unwrapping occurs on the rejection path.
func (p *Promise) rejectReason(reason Result) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.resolved = true
	p.mu.Unlock()
	p.settle(Rejected, reason)
}

// resolveValue runs the resolution procedure: adopt promises and thenables
// recursively, fulfill with anything else. Re-entered (via adoption
// callbacks) until a non-thenable value or a rejection is reached.
func (p *Promise) resolveValue(value Result) {
	if pr, ok := value.(*Promise); ok {
		if pr == p {
			p.settle(Rejected, &TypeError{
				Message: fmt.Sprintf("promise: chaining cycle detected for promise %d", p.id),
			})
			return
		}
		// Adopt the inner promise's eventual state. Zero-closure adoption:
		// a reaction with only a child target passes the settlement through.
		pr.subscribe(reaction{child: p})
		return
	}
	if th, ok := value.(Thenable); ok {
		p.adoptThenable(th)
		return
	}
	p.settle(Fulfilled, value)
}

// adoptThenable subscribes to an arbitrary thenable. External thenables are
// not trusted to honor single settlement, so only the first callback from it
// is honored; fulfillment values it produces are resolved recursively.
func (p *Promise) adoptThenable(th Thenable) {
	var once sync.Once
	th.Subscribe(
		func(v Result) {
			once.Do(func() { p.resolveValue(v) })
		},
		func(r Result) {
			once.Do(func() { p.settle(Rejected, r) })
		},
	)
}

// settle performs the one-way state transition and schedules all attached
// reactions, in attachment order, as individual jobs. Safe to call multiple
// times; only the first transition out of Pending has any effect.
//
// Fulfilled results are always non-thenable here: every fulfillment funnels
// through resolveValue, which unwraps first.
func (p *Promise) settle(state PromiseState, result Result) {
	p.mu.Lock()
	if PromiseState(p.state.Load()) != Pending {
		p.mu.Unlock()
		return
	}
	reactions := p.reactions
	p.reactions = nil
	channels := p.channels
	p.channels = nil
	p.result = result
	p.state.Store(int32(state))
	handled := p.handled
	p.mu.Unlock()

	p.loop.logger.Debug().
		Uint64("promise", p.id).
		Stringer("state", state).
		Log("promise settled")

	for i := range reactions {
		p.scheduleReaction(reactions[i], state, result)
	}
	for _, ch := range channels {
		ch <- result
		close(ch)
	}

	if state == Rejected && !handled {
		p.loop.trackRejection(p, result)
	}
}

// scheduleReaction enqueues one reaction job. Settlement and handler
// execution are always separated by at least this queue boundary.
func (p *Promise) scheduleReaction(r reaction, state PromiseState, result Result) {
	if err := p.loop.Submit(func() {
		runReaction(r, state, result)
	}); err != nil {
		p.loop.logger.Debug().
			Uint64("promise", p.id).
			Log("reaction dropped after loop termination")
	}
}

// runReaction executes a single reaction job: invoke the handler for the
// branch taken, or pass the settlement through when that handler is absent.
// A handler panic rejects the derived promise with a [PanicError].
func runReaction(r reaction, state PromiseState, result Result) {
	var fn Handler
	if state == Fulfilled {
		fn = r.onFulfilled
	} else {
		fn = r.onRejected
	}

	if fn == nil {
		if r.child != nil {
			r.child.settle(state, result)
		}
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			if r.child == nil {
				// No derived promise to reroute into; let the job-level
				// recovery log it.
				panic(rec)
			}
			r.child.settle(Rejected, PanicError{Value: rec})
		}
	}()

	res := fn(result)
	if r.child != nil {
		r.child.resolveValue(res)
	}
}
