package promise

import (
	"github.com/joeycumines/logiface"
)

// RejectionHandler is invoked for each rejected promise that still has no
// reaction attached when the unhandled-rejection checkpoint runs. The reason
// parameter is the rejection reason. Reporting is purely diagnostic.
type RejectionHandler func(reason Result)

// PromiseFactory constructs the derived promise used by Then/Catch/Finally
// and by the combinators. It exists so a specialized promise variant can
// substitute its own construction (pre-configured hooks, instrumentation)
// without subclassing the base type; implementations usually wrap
// [Loop.NewPromise]. Returning nil falls back to the default construction.
type PromiseFactory func(l *Loop) *Promise

// loopOptions holds configuration applied by NewLoop.
type loopOptions struct {
	logger         *logiface.Logger[logiface.Event]
	onUnhandled    RejectionHandler
	factory        PromiseFactory
	metricsEnabled bool
}

// LoopOption configures a [Loop] instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the structured logger used for scheduler diagnostics
// (lifecycle transitions, recovered job panics, unhandled rejections).
// A nil logger disables logging; logiface builders are nil-safe, so call
// sites pay nearly nothing when disabled.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithUnhandledRejection configures a handler invoked when a rejected
// promise has no reaction attached after the job queue drains. This follows
// the JavaScript unhandledrejection event semantics: the report fires at a
// queue boundary, never synchronously with the rejection itself.
func WithUnhandledRejection(handler RejectionHandler) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.onUnhandled = handler
		return nil
	}}
}

// WithPromiseFactory overrides the constructor used for derived promises.
// See [PromiseFactory].
func WithPromiseFactory(factory PromiseFactory) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.factory = factory
		return nil
	}}
}

// WithMetrics enables runtime counters on the loop, accessible via
// [Loop.Metrics]. Adds a few atomic increments per job; disabled by default.
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
