// Package retry runs fallible operations under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy defines how many times an operation is attempted and how long to
// wait between attempts. A zero Delay retries immediately.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Exponential doubles the delay after every failed attempt, capped by MaxDelay.
	Exponential bool
	MaxDelay    time.Duration
}

// Fixed returns a policy with a constant delay.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay}
}

// Exponential returns a policy whose delay doubles up to maxDelay.
func Exponential(attempts int, initial, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: initial, Exponential: true, MaxDelay: maxDelay}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if !p.Exponential || attempt <= 1 {
		return p.Delay
	}
	d := p.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// ExhaustedError is returned after the final failed attempt. It unwraps to
// the last underlying error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// AttemptHook observes a failed attempt. It must not influence control flow.
type AttemptHook func(ctx context.Context, attempt int, err error)

// Option configures a single Do call.
type Option func(*settings)

type settings struct {
	hooks []AttemptHook
}

// OnFailure registers a hook called after every failed attempt.
func OnFailure(hook AttemptHook) Option {
	return func(s *settings) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// Do executes op until it succeeds or the policy is exhausted. Only returned
// errors are retried; a successful zero value is returned as is.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		s.notify(ctx, attempt, err)

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (s settings) notify(ctx context.Context, attempt int, err error) {
	for _, hook := range s.hooks {
		func() {
			defer func() { _ = recover() }()
			hook(ctx, attempt, err)
		}()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
