package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExhausted matches (errors.Is) every *ExhaustedError.
	ErrExhausted = errors.New("retries exhausted")
	ErrTimeout   = errors.New("retry timeout")
)

// ExhaustedError is returned when every allowed attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Do calls fn until it succeeds, returns a non-transient error, the retries
// run out, or the policy timeout elapses. Cancellation of ctx ends the loop
// at once, including during a backoff sleep.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	callCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var last error
	for attempt := 0; ; attempt++ {
		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		last = err

		if ctx.Err() != nil {
			return zero, err
		}
		if callCtx.Err() != nil {
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, p.Timeout, err)
		}
		if !IsTransient(err) {
			return zero, err
		}
		if attempt >= p.MaxRetries {
			return zero, &ExhaustedError{Attempts: attempt + 1, Last: err}
		}

		delay := p.jittered(p.Delay(attempt + 1))
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := sleep(callCtx, delay); err != nil {
			if ctx.Err() != nil {
				return zero, last
			}
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, p.Timeout, last)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
