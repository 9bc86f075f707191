package utils

import (
	"context"
	"time"
)

// Backoff bounds a retry loop. Delay doubles after every failed attempt.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var DefaultBackoff = Backoff{
	Attempts:  4,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  8 * time.Second,
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.BaseDelay << attempt
	if b.MaxDelay > 0 && (d > b.MaxDelay || d <= 0) {
		return b.MaxDelay
	}
	return d
}

// Retry calls fn until it succeeds, the attempts are exhausted, ctx is done,
// or retryable reports the error as final.
func Retry[T any](ctx context.Context, b Backoff, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(b.Attempts, 1)

	var lastErr error
	for i := range attempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) || i == attempts-1 {
			break
		}

		timer := time.NewTimer(b.delay(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}
