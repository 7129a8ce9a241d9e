// Package retry runs attempt-bounded operations with capped exponential
// backoff and full jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"noticebot/internal/clock"
)

// Policy describes an attempt-bounded exponential backoff.
//
// The delay before attempt k (k >= 2) is drawn uniformly from
// [0, min(Max, Initial * Multiplier^(k-1))].
type Policy struct {
	Attempts   int
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Defaults used when a Policy field is zero.
const (
	DefaultAttempts   = 5
	DefaultInitial    = time.Second
	DefaultMultiplier = 2.0
	DefaultMax        = 30 * time.Second
)

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultInitial
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// Ceiling returns the upper bound of the jittered delay before attempt.
// It is zero for the first attempt.
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	p = p.normalized()
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			return p.Max
		}
	}
	return time.Duration(d)
}

// Jitter picks a delay in [0, max].
type Jitter func(max time.Duration) time.Duration

// FullJitter draws uniformly from [0, max].
func FullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// Permanent marks err as non-retryable. Do stops at the first permanent error
// and returns the wrapped error.
//
// Example:
//
//	return retry.Permanent(fmt.Errorf("bad request: %w", err))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Retrier executes a function under a Policy.
type Retrier struct {
	Policy Policy
	Clock  clock.Clock
	Jitter Jitter

	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(next int, delay time.Duration, err error)
}

// Do calls fn until it succeeds, returns a permanent error, or the attempt
// budget is spent. It returns the number of attempts made and the last error
// (with any Permanent marker removed).
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p := r.Policy.normalized()
	clk := r.Clock
	if clk == nil {
		clk = clock.Real()
	}
	jit := r.Jitter
	if jit == nil {
		jit = FullJitter
	}

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if attempt > 1 {
			ceil := p.Ceiling(attempt)
			delay := jit(ceil)
			if delay < 0 {
				delay = 0
			}
			if delay > ceil {
				delay = ceil
			}
			if r.OnRetry != nil {
				r.OnRetry(attempt, delay, last)
			}
			if err := clk.Sleep(ctx, delay); err != nil {
				return attempt - 1, fmt.Errorf("%w (last error: %v)", err, last)
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		var pe permanentError
		if errors.As(err, &pe) {
			return attempt, pe.err
		}
		last = err
		if ctx.Err() != nil {
			return attempt, last
		}
	}
	return p.Attempts, last
}
