package promise

import "sync/atomic"

// loopMetrics holds the hot counters. Only allocated when metrics are
// enabled, so the per-job cost is a nil check otherwise.
type loopMetrics struct {
	jobsSubmitted       atomic.Uint64
	jobsExecuted        atomic.Uint64
	maxQueueDepth       atomic.Uint64
	promisesCreated     atomic.Uint64
	rejections          atomic.Uint64
	unhandledRejections atomic.Uint64
}

// observeDepth records a new queue-depth high-water mark.
func (m *loopMetrics) observeDepth(depth int) {
	d := uint64(depth)
	for {
		cur := m.maxQueueDepth.Load()
		if d <= cur || m.maxQueueDepth.CompareAndSwap(cur, d) {
			return
		}
	}
}

// MetricsSnapshot is a point-in-time copy of the loop's counters.
type MetricsSnapshot struct {
	// JobsSubmitted counts successful Submit calls, including jobs enqueued
	// internally for reactions, executors, and settlement handoff.
	JobsSubmitted uint64

	// JobsExecuted counts jobs that have run, including ones that panicked.
	JobsExecuted uint64

	// MaxQueueDepth is the high-water mark of the queue length.
	MaxQueueDepth uint64

	// PromisesCreated counts promises constructed against this loop.
	PromisesCreated uint64

	// Rejections counts promises that settled rejected with no reaction
	// attached at settlement time (whether or not one was attached later).
	Rejections uint64

	// UnhandledRejections counts rejections reported by the checkpoint.
	UnhandledRejections uint64
}

// Metrics returns a snapshot of the loop's counters. The second return is
// false when metrics were not enabled via [WithMetrics].
func (l *Loop) Metrics() (MetricsSnapshot, bool) {
	m := l.metrics
	if m == nil {
		return MetricsSnapshot{}, false
	}
	return MetricsSnapshot{
		JobsSubmitted:       m.jobsSubmitted.Load(),
		JobsExecuted:        m.jobsExecuted.Load(),
		MaxQueueDepth:       m.maxQueueDepth.Load(),
		PromisesCreated:     m.promisesCreated.Load(),
		Rejections:          m.rejections.Load(),
		UnhandledRejections: m.unhandledRejections.Load(),
	}, true
}
