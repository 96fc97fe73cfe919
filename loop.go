package promise

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/petermattis/goid"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop that is
	// already being drained by another goroutine.
	ErrLoopAlreadyRunning = errors.New("promise: loop is already running")

	// ErrLoopTerminated is returned when jobs are submitted to a closed loop.
	ErrLoopTerminated = errors.New("promise: loop has been terminated")

	// ErrReentrantRun is returned when Run is called from a job executing on
	// the loop itself.
	ErrReentrantRun = errors.New("promise: cannot call Run from within the loop")
)

// Job is an opaque, zero-argument unit of deferred work. Jobs execute
// strictly FIFO, one at a time, and are never preempted.
type Job func()

// LoopState represents the lifecycle state of a [Loop].
type LoopState int32

const (
	// StateIdle indicates no goroutine is blocked draining the loop.
	// The queue may still be pumped manually via [Loop.Tick] or [Loop.Drain].
	StateIdle LoopState = iota

	// StateRunning indicates a goroutine is blocked in [Loop.Run].
	StateRunning

	// StateTerminated indicates the loop has been closed. Submissions fail
	// with [ErrLoopTerminated] and any queued jobs are discarded.
	StateTerminated
)

// String returns the string representation of the loop state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Loop is an ordered, FIFO job queue with single-threaded cooperative
// draining. It is the sole concurrency primitive of this package: every
// promise reaction, executor, and coroutine resumption executes as a job.
//
// A Loop is an explicit dependency — promises are constructed against one —
// rather than hidden process-global state. There are two ways to drain it:
//
//   - Deterministically, from a single goroutine, via [Loop.Tick] (one job)
//     or [Loop.Drain] (until empty). This is the mode tests use.
//   - Blocking, via [Loop.Run], which sleeps when the queue is empty and
//     wakes on [Loop.Submit]. This is the mode host integrations use.
//
// [Loop.Submit] is safe from any goroutine; the enqueue is the sole point of
// cross-thread synchronization. Jobs themselves always execute on whichever
// single goroutine is draining the queue.
type Loop struct {
	// Prevent copying
	_ [0]func()

	cond *sync.Cond

	// configuration, immutable after NewLoop
	logger      *logiface.Logger[logiface.Event]
	onUnhandled RejectionHandler
	factory     PromiseFactory
	metrics     *loopMetrics

	// rejected promises with no handler attached yet, keyed by promise id
	rejections map[uint64]rejectionRecord

	jobs []Job
	head int

	state         atomic.Int32
	gid           atomic.Int64 // goroutine currently draining, 0 when none
	nextPromiseID atomic.Uint64

	rejectionsMu sync.Mutex
	mu           sync.Mutex
}

// rejectionRecord holds a rejection pending the unhandled-rejection
// checkpoint.
type rejectionRecord struct {
	promise *Promise
	reason  Result
}

// NewLoop creates a job queue.
//
// Example:
//
//	loop, err := promise.NewLoop(
//	    promise.WithUnhandledRejection(func(reason promise.Result) {
//	        log.Printf("unhandled rejection: %v", reason)
//	    }),
//	)
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		logger:      cfg.logger,
		onUnhandled: cfg.onUnhandled,
		factory:     cfg.factory,
		rejections:  make(map[uint64]rejectionRecord),
	}
	if cfg.metricsEnabled {
		l.metrics = &loopMetrics{}
	}
	l.cond = sync.NewCond(&l.mu)
	l.state.Store(int32(StateIdle))

	return l, nil
}

// State returns the current lifecycle state of the loop.
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// Len returns the number of jobs currently queued.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs) - l.head
}

// Submit enqueues a job. It is safe to call from any goroutine; this is the
// only point at which work crosses from producer goroutines onto the loop.
// A nil job is ignored. Returns [ErrLoopTerminated] after [Loop.Close].
func (l *Loop) Submit(job Job) error {
	if job == nil {
		return nil
	}

	l.mu.Lock()
	if LoopState(l.state.Load()) == StateTerminated {
		l.mu.Unlock()
		return ErrLoopTerminated
	}
	l.jobs = append(l.jobs, job)
	depth := len(l.jobs) - l.head
	l.cond.Signal()
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.jobsSubmitted.Add(1)
		l.metrics.observeDepth(depth)
	}
	return nil
}

// pop dequeues the next job, compacting the backing slice once drained.
func (l *Loop) pop() (Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == len(l.jobs) {
		return nil, false
	}
	job := l.jobs[l.head]
	l.jobs[l.head] = nil
	l.head++
	if l.head == len(l.jobs) {
		l.jobs = l.jobs[:0]
		l.head = 0
	}
	return job, true
}

// enter marks the calling goroutine as the loop's draining goroutine.
// Returns false when draining is already owned (including reentrantly by
// the caller itself, in which case proceeding is safe).
func (l *Loop) enter() bool {
	return l.gid.CompareAndSwap(0, goid.Get())
}

func (l *Loop) exit(owned bool) {
	if owned {
		l.gid.Store(0)
	}
}

// onLoopGoroutine reports whether the caller is the goroutine currently
// draining the queue.
func (l *Loop) onLoopGoroutine() bool {
	g := l.gid.Load()
	return g != 0 && g == goid.Get()
}

// runJob executes a single job, converting a panic into a log event rather
// than letting it unwind the scheduler. Reaction and executor jobs carry
// their own recovery that reroutes panics into rejections; this recovery
// only catches panics from raw Submit jobs.
func (l *Loop) runJob(job Job) {
	defer func() {
		if l.metrics != nil {
			l.metrics.jobsExecuted.Add(1)
		}
		if r := recover(); r != nil {
			l.logger.Err().Interface("panic", r).Log("job panicked")
		}
	}()
	job()
}

// Tick runs at most one job. Returns false if the queue was empty.
//
// Tick (and [Loop.Drain]) are intended for single-threaded, deterministic
// pumping; do not mix them with a concurrent [Loop.Run].
func (l *Loop) Tick() bool {
	job, ok := l.pop()
	if !ok {
		return false
	}
	owned := l.enter()
	defer l.exit(owned)
	l.runJob(job)
	return true
}

// Drain runs jobs until the queue is empty, including jobs enqueued by the
// jobs it runs, then performs the unhandled-rejection checkpoint. Returns
// the number of jobs executed.
func (l *Loop) Drain() int {
	owned := l.enter()
	defer l.exit(owned)

	var n int
	for {
		job, ok := l.pop()
		if !ok {
			break
		}
		l.runJob(job)
		n++
	}
	l.checkUnhandledRejections()
	return n
}

// Run drains the queue on the calling goroutine until ctx is cancelled or
// the loop is closed, sleeping while the queue is empty. Whenever the queue
// drains to empty, the unhandled-rejection checkpoint runs before the loop
// goes to sleep.
//
// Only one goroutine may be in Run at a time; a second concurrent call
// returns [ErrLoopAlreadyRunning], and calling Run from a job returns
// [ErrReentrantRun].
func (l *Loop) Run(ctx context.Context) error {
	if l.onLoopGoroutine() {
		return ErrReentrantRun
	}
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if LoopState(l.state.Load()) == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}
	owned := l.enter()
	l.logger.Debug().Log("loop running")
	defer func() {
		l.exit(owned)
		l.state.CompareAndSwap(int32(StateRunning), int32(StateIdle))
		l.logger.Debug().Log("loop stopped")
	}()

	// Wake the sleeping drain loop on cancellation. Broadcast under the
	// queue mutex so the wakeup cannot slip between the drain loop's
	// condition check and its cond.Wait.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	for {
		for {
			job, ok := l.pop()
			if !ok {
				break
			}
			l.runJob(job)
		}

		l.checkUnhandledRejections()

		l.mu.Lock()
		for l.head == len(l.jobs) && ctx.Err() == nil && LoopState(l.state.Load()) == StateRunning {
			l.cond.Wait()
		}
		l.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		if LoopState(l.state.Load()) != StateRunning {
			return nil
		}
	}
}

// Close terminates the loop. Queued jobs are discarded, a blocked [Loop.Run]
// returns, and subsequent submissions fail with [ErrLoopTerminated].
// Close is idempotent.
func (l *Loop) Close() error {
	l.mu.Lock()
	l.state.Store(int32(StateTerminated))
	l.jobs = nil
	l.head = 0
	l.cond.Broadcast()
	l.mu.Unlock()
	return nil
}

// trackRejection records a rejected promise for the unhandled-rejection
// checkpoint. Called once per rejection, only when no reaction had been
// attached at settlement time.
func (l *Loop) trackRejection(p *Promise, reason Result) {
	if l.metrics != nil {
		l.metrics.rejections.Add(1)
	}
	l.rejectionsMu.Lock()
	l.rejections[p.id] = rejectionRecord{promise: p, reason: reason}
	l.rejectionsMu.Unlock()
}

// untrackRejection removes a promise from the pending set, typically because
// a reaction was attached before the checkpoint ran.
func (l *Loop) untrackRejection(p *Promise) {
	l.rejectionsMu.Lock()
	delete(l.rejections, p.id)
	l.rejectionsMu.Unlock()
}

// checkUnhandledRejections reports rejections that still have no reaction
// attached. Runs whenever the queue drains to empty, so every reaction job
// scheduled by a rejection has already executed. Each rejection is reported
// at most once; reporting never mutates promise state.
func (l *Loop) checkUnhandledRejections() {
	l.rejectionsMu.Lock()
	if len(l.rejections) == 0 {
		l.rejectionsMu.Unlock()
		return
	}
	snapshot := make([]rejectionRecord, 0, len(l.rejections))
	for _, rec := range l.rejections {
		snapshot = append(snapshot, rec)
	}
	clear(l.rejections)
	l.rejectionsMu.Unlock()

	for _, rec := range snapshot {
		if rec.promise.isHandled() {
			continue
		}
		if l.metrics != nil {
			l.metrics.unhandledRejections.Add(1)
		}
		l.logger.Warning().
			Uint64("promise", rec.promise.id).
			Interface("reason", rec.reason).
			Log("unhandled promise rejection")
		if l.onUnhandled != nil {
			l.onUnhandled(rec.reason)
		}
	}
}

// newPromise constructs a pending promise bound to this loop.
func (l *Loop) newPromise() *Promise {
	if l.metrics != nil {
		l.metrics.promisesCreated.Add(1)
	}
	return &Promise{loop: l, id: l.nextPromiseID.Add(1)}
}

// newDerived constructs the promise returned by Then/Catch/Finally and by
// the combinators, honoring [WithPromiseFactory] so a specialized variant
// can substitute its own construction without subclassing.
func (l *Loop) newDerived() *Promise {
	if l.factory != nil {
		if p := l.factory(l); p != nil {
			return p
		}
	}
	return l.newPromise()
}

// NewPromise creates a pending promise along with its resolve and reject
// functions. Both functions may be called from any goroutine; only the first
// settlement has an effect.
//
//	p, resolve, reject := loop.NewPromise()
//	go func() {
//	    v, err := doWork()
//	    if err != nil {
//	        reject(err)
//	    } else {
//	        resolve(v)
//	    }
//	}()
func (l *Loop) NewPromise() (*Promise, ResolveFunc, RejectFunc) {
	p := l.newPromise()
	return p, p.resolve, p.rejectReason
}
