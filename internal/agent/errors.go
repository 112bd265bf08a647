package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for the tool dispatch pipeline and the task loop. Callers
// match them with errors.Is; the concrete message carries the detail.
var (
	// ErrToolNotFound means the model requested a tool name nobody registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolInputInvalid means the call input failed schema validation or
	// could not be parsed at all.
	ErrToolInputInvalid = errors.New("tool input invalid")

	// ErrToolExecution means the tool ran and failed.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrToolPanic is an execution failure recovered from a panicking tool.
	// It wraps ErrToolExecution so both sentinels match.
	ErrToolPanic = fmt.Errorf("%w: panic recovered", ErrToolExecution)

	// ErrDuplicateTool means a descriptor name collided at registration.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrMaxTurns means the task hit its turn ceiling before the model
	// produced a final answer.
	ErrMaxTurns = errors.New("maximum turns reached")

	// ErrNoProvider means no adapter in the fallback chain could serve the
	// request.
	ErrNoProvider = errors.New("no usable provider")
)

// TransientError marks a tool failure worth retrying: network blips, rate
// limits, anything that might clear on the next attempt. Failures not
// wrapped in it fail the call on the first attempt.
type TransientError struct {
	Err error
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientError anywhere in its
// chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
