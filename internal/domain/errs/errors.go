package errs

import "errors"

// Sentinel errors shared across the pipeline. Callers classify with errors.Is
// so that retry policy stays in one place (the dispatcher).
var (
	// ErrCapacityExceeded is returned when the market data store has no free
	// symbol slots left. Never retried.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrNotFound is returned for unknown symbols, signals, or rules.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned when a worker task or analysis call exceeds its
	// deadline. Retryable.
	ErrTimeout = errors.New("timeout")

	// ErrRateLimited is returned when the remote reasoning service throttles
	// us. Triggers a cooldown wait, does not consume a retry attempt.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient covers network errors and 5xx-class remote failures.
	// Retryable.
	ErrTransient = errors.New("transient remote failure")

	// ErrValidation is returned for malformed rules or tasks. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrShutdown is returned to callers whose work was abandoned during
	// graceful shutdown.
	ErrShutdown = errors.New("shutting down")
)

// Retryable reports whether err should go through the dispatcher retry policy.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransient)
}
