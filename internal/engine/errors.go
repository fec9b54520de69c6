package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineTimeout marks an engine invocation abandoned at its deadline.
	ErrEngineTimeout = errors.New("engine timed out")
	// ErrEngineFailure marks an engine invocation that returned an error or panicked.
	ErrEngineFailure = errors.New("engine failed")
	// ErrDecoder marks malformed detector tensors.
	ErrDecoder = errors.New("malformed detector output")
	// ErrPipelineFailure marks a failure that escaped every inner recovery.
	ErrPipelineFailure = errors.New("pipeline failed")
	// ErrSkipped marks work that was never started because its context was cancelled.
	ErrSkipped = errors.New("engine skipped")
	// ErrNoBackend is returned by engines compiled without their native backend.
	ErrNoBackend = errors.New("engine backend not available")
)

// Error describes a failed operation of a named engine.
type Error struct {
	Engine string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Engine, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Failure wraps err as an ErrEngineFailure for the named engine.
func Failure(engineName, op string, err error) error {
	return &Error{Engine: engineName, Op: op, Err: fmt.Errorf("%w: %w", ErrEngineFailure, err)}
}

// IsTimeout reports whether err is an engine timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrEngineTimeout) }
