package upstream

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a blocking call is attempted.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// OnRetry, if set, is called before each backoff sleep with the attempt
	// that just failed.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Retry calls fn until it succeeds, returns a non-retryable error, or
// MaxAttempts calls have been made. The delay before attempt n+1 is
// BaseDelay*n. The last error is returned as-is.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(p.MaxAttempts, 1)

	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRetryable(err) || attempt == attempts {
			return zero, err
		}

		delay := p.BaseDelay * time.Duration(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
	return zero, err
}
