// Package retry runs fallible work with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"aicore/internal/logging"
)

// Policy configures retry behavior.
type Policy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before retry n is BaseDelay * 2^(n-1)
	MaxDelay   time.Duration // 0 leaves the delay uncapped

	// OnRetry is called before each wait with the 1-based retry number and
	// the error that caused it.
	OnRetry func(attempt int, err error)
}

// Default returns three retries starting at one second.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Do runs fn until it succeeds, the retries are exhausted, fn returns a
// Permanent error, or ctx is done. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logging.RetryDebug("succeeded after %d retries", attempt)
			}
			return v, nil
		}
		lastErr = unwrapPermanent(err)

		if isPermanent(err) || ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		logging.RetryWarn("attempt %d/%d failed: %v", attempt+1, p.MaxRetries+1, lastErr)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func unwrapPermanent(err error) error {
	var pe *permanentError
	if errors.As(err, &pe) && pe == err {
		return pe.err
	}
	return err
}
