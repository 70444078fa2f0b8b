// Package retry runs an operation under an explicit, bounded retry policy.
// Every attempt budget is finite; callers that want "keep trying through
// transient blips" pick a generous MaxAttempts and a backoff ceiling instead
// of looping forever.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use the rate-limit backoff
)

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration // 0 means no ceiling
	RateLimitBackoff time.Duration // 0 falls back to the current backoff
	Clock            clockwork.Clock
	OnRetry          func(attempt int, err error, backoff time.Duration)
}

// ErrInvalidPolicy is returned when a policy allows no attempts.
var ErrInvalidPolicy = errors.New("retry: MaxAttempts must be >= 1")

type Classify func(err error) Action
type Operation[T any] func(attempt int) (T, error)

// Always treats every error as transient.
func Always(error) Action { return Retry }

// Validate reports whether the policy can run at least one attempt.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidPolicy
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 || p.RateLimitBackoff < 0 {
		return errors.New("retry: backoff durations must not be negative")
	}
	return nil
}

func (p Policy) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

func (p Policy) capped(d time.Duration) time.Duration {
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do runs op until it succeeds, classify says Stop, attempts run out, or ctx
// is cancelled. Attempts are numbered from 1.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}
	if classify == nil {
		classify = Always
	}

	clock := p.clock()
	backoff := p.capped(p.InitialBackoff)

	for attempt := 1; ; attempt++ {
		val, err := op(attempt)
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			return zero, &PermanentError{Attempts: attempt, Err: err}
		}

		if attempt >= p.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := backoff
		if action == After && p.RateLimitBackoff > 0 {
			wait = p.RateLimitBackoff
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		if wait > 0 {
			select {
			case <-clock.After(wait):
			case <-ctx.Done():
				return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
		} else if ctx.Err() != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}

		backoff = p.capped(backoff * 2)
	}
}

// DoVoid is Do for operations without a result.
func DoVoid(ctx context.Context, p Policy, classify Classify, op func(attempt int) error) error {
	_, err := Do(ctx, p, classify, func(attempt int) (struct{}, error) { return struct{}{}, op(attempt) })
	return err
}

// PermanentError wraps an error that classify marked as non-retryable.
type PermanentError struct {
	Attempts int
	Err      error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// ExhaustedError wraps the last error once the attempt budget is spent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *ExhaustedError) Unwrap() error { return e.Err }

// Attempts returns how many attempts produced err, or 0 if err did not come
// from Do.
func Attempts(err error) int {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return perm.Attempts
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return 0
}
