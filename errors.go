package promise

import (
	"errors"
	"fmt"
)

// PanicError wraps a panic value recovered from an executor, a reaction
// handler, or a promisified function. It flows through the system as a
// rejection reason.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("promise: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type,
// enabling [errors.Is] and [errors.As] through the wrapper.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TypeError indicates a structurally invalid operation, such as resolving a
// promise with itself.
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "promise: type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and
// [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// AggregateError is the rejection reason produced by [Any] when every input
// rejects (or when it is given no inputs). Errors preserves the positional
// order of the inputs.
type AggregateError struct {
	Message string
	Errors  []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "promise: all promises were rejected"
}

// Unwrap returns the errors slice for multi-error unwrapping, so
// [errors.Is] and [errors.As] match against every contained error.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is matches any other AggregateError, regardless of contents.
func (e *AggregateError) Is(target error) bool {
	var agg *AggregateError
	return errors.As(target, &agg)
}

// ErrorWrapper adapts a non-error rejection reason to the error interface,
// for inclusion in an [AggregateError].
type ErrorWrapper struct {
	Value Result
}

// Error implements the error interface.
func (e *ErrorWrapper) Error() string {
	return fmt.Sprintf("%v", e.Value)
}

// reasonToError coerces an arbitrary rejection reason into an error.
func reasonToError(reason Result) error {
	if err, ok := reason.(error); ok {
		return err
	}
	return &ErrorWrapper{Value: reason}
}
