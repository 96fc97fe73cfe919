package promise

import (
	"errors"
	"sync/atomic"
)

// ErrNilCoroutine rejects a task started with a nil computation.
var ErrNilCoroutine = errors.New("promise: nil coroutine")

// TaskState represents the lifecycle state of a [Task].
type TaskState int32

const (
	// TaskCreated indicates the task has been scheduled but not yet stepped.
	TaskCreated TaskState = iota

	// TaskRunning indicates the computation is currently executing a step.
	TaskRunning

	// TaskSuspended indicates the computation yielded an operation and is
	// waiting for it to settle.
	TaskSuspended

	// TaskCompleted indicates the computation returned a final result.
	TaskCompleted

	// TaskFailed indicates the computation ended with an uncaught failure.
	TaskFailed
)

// String returns the string representation of the task state.
func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepResult is the outcome of advancing a [Coroutine] by one step.
type StepResult struct {
	// Value is the yielded operation when Done is false, or the final
	// result when Done is true and Err is nil.
	Value Result

	// Err is the computation's terminal failure. Only meaningful when Done
	// is true.
	Err error

	// Done reports whether the computation has finished.
	Done bool
}

// Coroutine is the explicit step protocol for a suspendable computation: no
// language-level stack switching, just messages. [NewGenerator] provides a
// goroutine-backed implementation with an imperative yield surface; state
// machines can implement the interface directly.
//
// The driver alternates calls strictly: one Step or ThrowInto, then waits
// for the yielded operation to settle before the next. Implementations need
// not be safe for concurrent stepping.
type Coroutine interface {
	// Step resumes the computation, delivering input as the result of the
	// suspension point it is parked on. The input to the first Step is
	// undefined and should be ignored.
	Step(input Result) StepResult

	// ThrowInto resumes the computation by injecting an error at the
	// suspension point. A computation that does not recover reports Done
	// with a non-nil Err.
	ThrowInto(reason Result) StepResult
}

// Task is the driver handle for a running coroutine. The final result is
// exposed as a promise so tasks compose with the rest of the package.
type Task struct {
	loop    *Loop
	coro    Coroutine
	promise *Promise
	state   atomic.Int32
}

// Start schedules c onto the loop and returns its driver handle. Each
// resumption of the computation executes as a job; yielded operands are
// coerced into promises as if by [Resolve], so a coroutine may yield plain
// values, promises, or thenables interchangeably.
func Start(l *Loop, c Coroutine) *Task {
	t := &Task{loop: l, promise: l.newPromise()}
	t.state.Store(int32(TaskCreated))

	if c == nil {
		t.fail(ErrNilCoroutine)
		return t
	}
	t.coro = c

	if err := l.Submit(func() {
		t.advance(func() StepResult { return t.coro.Step(nil) })
	}); err != nil {
		t.fail(err)
	}
	return t
}

// Run drives a generator-style computation to completion and returns the
// promise of its final result. It is shorthand for starting a
// [NewGenerator] coroutine:
//
//	p := promise.Run(loop, func(y *promise.Yielder) (promise.Result, error) {
//	    v, err := y.Yield(fetchSomething(loop))
//	    if err != nil {
//	        return nil, err
//	    }
//	    return v, nil
//	})
func Run(l *Loop, fn GeneratorFunc) *Promise {
	return Start(l, NewGenerator(fn)).Promise()
}

// Promise returns the promise of the task's final result: fulfilled with
// the computation's return value on completion, rejected with its uncaught
// failure otherwise.
func (t *Task) Promise() *Promise {
	return t.promise
}

// State returns the current [TaskState].
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

func (t *Task) fail(err error) {
	t.state.Store(int32(TaskFailed))
	t.promise.rejectReason(err)
}

// advance executes one resumption of the computation and dispatches on the
// outcome: completion settles the task promise, suspension subscribes the
// next resumption to the yielded operation's settlement.
func (t *Task) advance(resume func() StepResult) {
	t.state.Store(int32(TaskRunning))

	sr := func() (sr StepResult) {
		defer func() {
			if r := recover(); r != nil {
				sr = StepResult{Done: true, Err: PanicError{Value: r}}
			}
		}()
		return resume()
	}()

	if sr.Done {
		if sr.Err != nil {
			t.fail(sr.Err)
		} else {
			t.state.Store(int32(TaskCompleted))
			t.promise.resolve(sr.Value)
		}
		return
	}

	t.state.Store(int32(TaskSuspended))
	Resolve(t.loop, sr.Value).Subscribe(
		func(v Result) {
			t.advance(func() StepResult { return t.coro.Step(v) })
		},
		func(r Result) {
			t.advance(func() StepResult { return t.coro.ThrowInto(r) })
		},
	)
}

// GeneratorFunc is the body of a goroutine-backed coroutine. It runs on its
// own goroutine, suspends via [Yielder.Yield], and finishes by returning:
// a nil error completes the task with the returned value, a non-nil error
// (or a panic) fails it.
type GeneratorFunc func(y *Yielder) (Result, error)

// Yielder is the suspension surface handed to a [GeneratorFunc].
type Yielder struct {
	resume chan resumeMsg
	yield  chan StepResult
}

// resumeMsg carries a resumption into the generator goroutine: either a
// settlement value or an injected failure.
type resumeMsg struct {
	value  Result
	reason Result
	inject bool
}

// Yield suspends the computation on op, which is coerced into a promise by
// the driver. It returns the operation's fulfillment value, or a non-nil
// error when the operation rejected and the rejection was injected at this
// suspension point. Returning that error from the [GeneratorFunc] fails the
// task; ignoring it and continuing is how a computation "catches" it.
func (y *Yielder) Yield(op Result) (Result, error) {
	y.yield <- StepResult{Value: op}
	msg := <-y.resume
	if msg.inject {
		return nil, reasonToError(msg.reason)
	}
	return msg.value, nil
}

// generator adapts a GeneratorFunc to the Coroutine step protocol. The
// backing goroutine starts lazily on the first Step and alternates with the
// driver over unbuffered channels, so exactly one side runs at a time.
//
// A generator whose task is abandoned mid-suspension (for example, the loop
// was closed while the yielded operation was pending) keeps its goroutine
// parked until process exit; drain the loop before discarding it.
type generator struct {
	fn      GeneratorFunc
	y       *Yielder
	started bool
}

// NewGenerator wraps fn in the [Coroutine] step protocol, for use with
// [Start]. Most callers want [Run] instead.
func NewGenerator(fn GeneratorFunc) Coroutine {
	return &generator{
		fn: fn,
		y: &Yielder{
			resume: make(chan resumeMsg),
			yield:  make(chan StepResult),
		},
	}
}

func (g *generator) Step(input Result) StepResult {
	return g.advance(resumeMsg{value: input})
}

func (g *generator) ThrowInto(reason Result) StepResult {
	return g.advance(resumeMsg{reason: reason, inject: true})
}

func (g *generator) advance(msg resumeMsg) StepResult {
	if !g.started {
		if msg.inject {
			// No suspension point exists yet to inject into.
			return StepResult{Done: true, Err: reasonToError(msg.reason)}
		}
		g.start()
		return <-g.y.yield
	}
	g.y.resume <- msg
	return <-g.y.yield
}

func (g *generator) start() {
	g.started = true
	go func() {
		defer func() {
			if r := recover(); r != nil {
				g.y.yield <- StepResult{Done: true, Err: PanicError{Value: r}}
			}
		}()
		v, err := g.fn(g.y)
		if err != nil {
			g.y.yield <- StepResult{Done: true, Err: err}
			return
		}
		g.y.yield <- StepResult{Done: true, Value: v}
	}()
}
