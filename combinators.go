package promise

import "sync"

// Combinators compose a slice of inputs into one derived promise. Inputs
// need not be promises: plain values are coerced as if by [Resolve], so a
// mixed slice of values, promises, and thenables is legal. The derived
// promise is constructed through the loop's promise factory (see
// [WithPromiseFactory]).

// All returns a promise that fulfills with a slice of results, positionally
// matching the inputs, once every input has fulfilled.
//
// It rejects with the reason of the first input to reject by settlement
// time, not by position; the remaining inputs still run to completion but
// their results are discarded. An empty input slice fulfills immediately
// with an empty slice.
func All(l *Loop, inputs []Result) *Promise {
	result := l.newDerived()

	if len(inputs) == 0 {
		result.settle(Fulfilled, make([]Result, 0))
		return result
	}

	var (
		mu        sync.Mutex
		remaining = len(inputs)
		rejected  bool
	)
	values := make([]Result, len(inputs))

	for i, in := range inputs {
		idx := i
		Resolve(l, in).Subscribe(
			func(v Result) {
				mu.Lock()
				if rejected {
					mu.Unlock()
					return
				}
				values[idx] = v
				remaining--
				done := remaining == 0
				mu.Unlock()
				if done {
					result.settle(Fulfilled, values)
				}
			},
			func(r Result) {
				mu.Lock()
				first := !rejected
				rejected = true
				mu.Unlock()
				if first {
					result.settle(Rejected, r)
				}
			},
		)
	}

	return result
}

// Race returns a promise that settles identically to whichever input
// settles first in time, regardless of fulfillment or rejection. The other
// inputs still run to completion as side effects; their settlements are
// ignored.
//
// Race of an empty slice returns a promise that never settles: with no
// inputs there is no first settlement to adopt.
func Race(l *Loop, inputs []Result) *Promise {
	result := l.newDerived()

	for _, in := range inputs {
		Resolve(l, in).Subscribe(
			func(v Result) {
				result.settle(Fulfilled, v)
			},
			func(r Result) {
				result.settle(Rejected, r)
			},
		)
	}

	return result
}

// Outcome describes the settlement of one input to [AllSettled].
type Outcome struct {
	// Status is either [Fulfilled] or [Rejected].
	Status PromiseState

	// Value holds the fulfillment value when Status is Fulfilled.
	Value Result

	// Reason holds the rejection reason when Status is Rejected.
	Reason Result
}

// AllSettled returns a promise that fulfills with a slice of [Outcome],
// positionally matching the inputs, once every input has settled. Unlike
// [All] it never rejects. An empty input slice fulfills immediately with an
// empty slice.
func AllSettled(l *Loop, inputs []Result) *Promise {
	result := l.newDerived()

	if len(inputs) == 0 {
		result.settle(Fulfilled, make([]Outcome, 0))
		return result
	}

	var (
		mu        sync.Mutex
		remaining = len(inputs)
	)
	outcomes := make([]Outcome, len(inputs))

	record := func(idx int, o Outcome) {
		mu.Lock()
		outcomes[idx] = o
		remaining--
		done := remaining == 0
		mu.Unlock()
		if done {
			result.settle(Fulfilled, outcomes)
		}
	}

	for i, in := range inputs {
		idx := i
		Resolve(l, in).Subscribe(
			func(v Result) {
				record(idx, Outcome{Status: Fulfilled, Value: v})
			},
			func(r Result) {
				record(idx, Outcome{Status: Rejected, Reason: r})
			},
		)
	}

	return result
}

// Any returns a promise that fulfills with the value of the first input to
// fulfill. It rejects only if every input rejects, with an
// [*AggregateError] whose Errors preserve input order. An empty input slice
// rejects immediately.
func Any(l *Loop, inputs []Result) *Promise {
	result := l.newDerived()

	if len(inputs) == 0 {
		result.settle(Rejected, &AggregateError{
			Message: "promise: no promises were provided",
		})
		return result
	}

	var (
		mu        sync.Mutex
		remaining = len(inputs)
	)
	reasons := make([]error, len(inputs))

	for i, in := range inputs {
		idx := i
		Resolve(l, in).Subscribe(
			func(v Result) {
				result.settle(Fulfilled, v)
			},
			func(r Result) {
				mu.Lock()
				reasons[idx] = reasonToError(r)
				remaining--
				done := remaining == 0
				mu.Unlock()
				if done {
					result.settle(Rejected, &AggregateError{Errors: reasons})
				}
			},
		)
	}

	return result
}
