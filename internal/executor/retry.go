package executor

import (
	"context"
	"time"
)

// RetryPolicy is the reusable retry combinator: one classification function,
// one delay schedule, applied uniformly instead of per call site.
type RetryPolicy struct {
	// MaxAttempts caps total attempts, first try included.
	MaxAttempts int
	// Delay between attempts.
	Delay time.Duration
	// Retryable decides whether a failure class earns another attempt.
	Retryable func(Class) bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes fn until it succeeds, the class is not retryable, or attempts
// exhaust. Returns the attempts consumed and the final error.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt, nil
		}
		if p.Retryable == nil || !p.Retryable(Classify(err)) {
			return attempt, err
		}
		if attempt == maxAttempts {
			return attempt, err
		}
		if p.Delay > 0 {
			if serr := sleep(ctx, p.Delay); serr != nil {
				return attempt, err
			}
		}
	}
	return maxAttempts, err
}
