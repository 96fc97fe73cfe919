package promise

// Thenable is the duck-typed subscription capability used by the resolution
// procedure. Any value exposing it — not just [*Promise] — participates in
// unwrapping: resolving a promise with a Thenable defers settlement until
// the thenable invokes one of the two callbacks, recursively.
//
// Implementations must eventually invoke at most one of the callbacks, at
// most once; the adopter enforces single settlement regardless, honoring
// only the first invocation.
type Thenable interface {
	// Subscribe registers the settlement callbacks. Either may be invoked
	// synchronously or later, from any goroutine.
	Subscribe(onFulfilled, onRejected func(Result))
}

var _ Thenable = (*Promise)(nil)

// ThenableFunc adapts a plain function to the [Thenable] interface, for
// values whose subscription capability is expressed as a closure rather
// than a named type.
//
//	v := promise.ThenableFunc(func(onFulfilled, _ func(promise.Result)) {
//	    onFulfilled(42)
//	})
type ThenableFunc func(onFulfilled, onRejected func(Result))

// Subscribe implements [Thenable].
func (f ThenableFunc) Subscribe(onFulfilled, onRejected func(Result)) {
	f(onFulfilled, onRejected)
}
