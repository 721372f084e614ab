package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled    = errors.New("task engine disabled")
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped due to overlap policy")
)

// NoRetry makes err final: the engine reports it without further attempts.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &finalError{err: err}
}

// IsNoRetry reports whether err or anything it wraps came from NoRetry.
func IsNoRetry(err error) bool {
	var fe *finalError
	return errors.As(err, &fe)
}

type finalError struct{ err error }

func (e *finalError) Error() string { return e.err.Error() }
func (e *finalError) Unwrap() error { return e.err }

// RetryAfter attaches a server-provided delay (an HTTP Retry-After, for
// instance) to err. The engine uses it instead of the exponential backoff,
// still capped by RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &delayedError{err: err, after: max(after, 0)}
}

// RetryAfterError is implemented by errors that carry a retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type delayedError struct {
	err   error
	after time.Duration
}

func (e *delayedError) Error() string             { return fmt.Sprintf("retry after %s: %v", e.after, e.err) }
func (e *delayedError) Unwrap() error             { return e.err }
func (e *delayedError) RetryAfter() time.Duration { return e.after }
