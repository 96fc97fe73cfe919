package promise

import (
	"context"
	"errors"
)

// ErrGoexit rejects a promisified operation whose goroutine exited via
// runtime.Goexit without returning.
var ErrGoexit = errors.New("promise: goroutine exited via runtime.Goexit")

// AsyncFunc is an ordinary blocking Go function bridged into a promise by
// [Loop.Promisify]. It should honor ctx cancellation.
type AsyncFunc func(ctx context.Context) (Result, error)

// Promisify runs fn on its own goroutine and returns a promise of its
// result. This is the bridge for arbitrary asynchronous producers (file
// reads, network calls, timers owned by the host): the producer runs off
// the loop, and its completion is handed off through the job queue so the
// settlement — like every reaction that follows — is observed on the loop
// goroutine.
//
// Guarantees:
//   - A nil error fulfills the promise with fn's result; a non-nil error
//     rejects it with that error.
//   - A panic inside fn rejects the promise with a [PanicError].
//   - runtime.Goexit rejects the promise with [ErrGoexit] rather than
//     leaving it pending forever.
//   - If the loop terminates before the handoff, the promise is settled
//     directly as a fallback so it can never hang.
func (l *Loop) Promisify(ctx context.Context, fn AsyncFunc) *Promise {
	p := l.newPromise()

	if LoopState(l.state.Load()) == StateTerminated {
		p.rejectReason(ErrLoopTerminated)
		return p
	}

	go func() {
		completed := false

		defer func() {
			if r := recover(); r != nil {
				l.handoff(func() { p.rejectReason(PanicError{Value: r}) })
			} else if !completed {
				// Reached only when fn neither returned nor panicked, i.e.
				// the goroutine is unwinding via runtime.Goexit.
				l.handoff(func() { p.rejectReason(ErrGoexit) })
			}
		}()

		res, err := fn(ctx)
		completed = true

		if err != nil {
			l.handoff(func() { p.rejectReason(err) })
		} else {
			l.handoff(func() { p.resolve(res) })
		}
	}()

	return p
}

// handoff submits job to the queue, falling back to running it directly if
// the loop has terminated. The fallback keeps the "promises always settle"
// guarantee during shutdown.
func (l *Loop) handoff(job Job) {
	if err := l.Submit(job); err != nil {
		job()
	}
}
