// Package promise provides a deferred-computation primitive layered over a
// single-threaded, strictly FIFO job queue, along with Promise/A+ style
// chaining, combinators, and a coroutine-driven task runner.
//
// # Architecture
//
// The package is built around a [Loop], an ordered queue of jobs drained by
// exactly one logical goroutine at a time. Promises are constructed against a
// loop, and every user-visible callback (executor, Then/Catch/Finally
// handlers, coroutine resumptions) executes as a job on that loop. Settlement
// and handler execution are always separated by at least one queue turn,
// even when a handler is attached to an already-settled promise.
//
// The loop is an explicit, injectable dependency rather than process-global
// state. Tests (and any embedding that wants deterministic scheduling) drive
// it one job at a time via [Loop.Tick] or to exhaustion via [Loop.Drain];
// host integrations block in [Loop.Run] instead.
//
// # Promises
//
// [New] constructs a promise from an executor, [Resolve] and [Reject] are the
// settled factories, and [Loop.Promisify] bridges an ordinary blocking Go
// function into a promise. A promise transitions out of [Pending] exactly once; late
// or repeated calls to its resolve/reject functions are no-ops.
//
// Chaining follows the Promise/A+ resolution procedure: handler return values
// settle the derived promise, returned promises and [Thenable] values are
// adopted recursively, and a panicking handler rejects the derived promise
// with a [PanicError]. Rejection reasons are taken literally and are never
// unwrapped, including when the reason itself is a promise or thenable.
//
// # Combinators
//
// [All], [Race], [AllSettled], and [Any] compose a slice of inputs into a
// single derived promise. Non-promise inputs are coerced as if by [Resolve].
// Race of an empty slice returns a promise that never settles, as there is
// no first settlement to adopt.
//
// # Task runner
//
// [Run] drives a generator-style computation that suspends by yielding
// operations. Each yielded operand is coerced into a promise; fulfillment
// resumes the computation with the value, rejection resumes it by injecting
// an error at the suspension point. The run itself is represented as a
// promise of the final result, composing with everything above. The
// underlying [Coroutine] step protocol is exported for computations that
// want to implement suspension without a backing goroutine.
//
// # Error handling
//
// No failure escapes the scheduler as a raw panic: executor and handler
// panics become rejections, and a rejected promise that never receives a
// rejection handler is reported through the loop's unhandled-rejection
// callback (see [WithUnhandledRejection]) after the queue drains. Reporting
// is diagnostic only; it never alters scheduler state.
package promise
