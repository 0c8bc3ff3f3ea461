package fetch

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Sentinel errors for fetch operations.
var (
	// ErrNoBackend is the rejection recorded when LOAD runs without a backend.
	ErrNoBackend = errors.New("fetch: no backend configured")

	// ErrClosed is returned by operations on a closed subscriber.
	ErrClosed = errors.New("fetch: subscriber closed")

	// ErrEmptyRejection replaces a nil error carried by a REJECT event.
	ErrEmptyRejection = errors.New("fetch: rejected without an error")
)

// PanicError is the rejection recorded when a backend panics.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fetch: backend panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
