package service

import (
	"context"
	"time"

	"github.com/accesswatch/accesswatch/internal/domain/model"
)

// withRetry runs fn up to 1+policy.Attempts times with a fixed delay
// between attempts, returning the last error when every attempt fails.
// Context cancellation aborts the wait between attempts.
func withRetry(ctx context.Context, policy model.RetryPolicy, fn func(ctx context.Context) error) error {
	policy.Sanitize()

	var lastErr error
	attempts := policy.Attempts + 1
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts-1 {
			if err := sleepCtx(ctx, policy.Delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
