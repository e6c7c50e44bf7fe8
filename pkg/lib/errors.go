package lib

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed request. It is never retried and is
// surfaced to the caller before any execution record exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// ResourceExhaustedError reports that the concurrency cap was hit. The
// caller must back off and resubmit; the supervisor never queues.
type ResourceExhaustedError struct {
	Running int
	Limit   int
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("concurrency limit reached: %d of %d executions running", e.Running, e.Limit)
}

// SpawnError reports that the OS failed to launch the process. The
// execution is terminally failed; no recovery is attempted.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// RecoveryExhaustedError reports that the retry budget ran out before any
// recovery action succeeded.
type RecoveryExhaustedError struct {
	ID      string
	Retries int
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("execution %s: maximum recovery attempts reached (%d)", e.ID, e.Retries)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsResourceExhausted reports whether err is (or wraps) a ResourceExhaustedError.
func IsResourceExhausted(err error) bool {
	var re *ResourceExhaustedError
	return errors.As(err, &re)
}

// IsSpawn reports whether err is (or wraps) a SpawnError.
func IsSpawn(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
