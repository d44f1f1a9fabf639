package delivery

import (
	"context"
	"time"
)

// RetryStrategy returns the delay before retry number attempt (1-based)
type RetryStrategy interface {
	NextRetry(attempt int) time.Duration
}

// BackoffList uses an ordered list of per-retry delays, reusing the last entry
// when there are more retries than delays. An empty list means no delay.
type BackoffList []time.Duration

// NextRetry implements RetryStrategy
func (b BackoffList) NextRetry(attempt int) time.Duration {
	if len(b) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(b) {
		return b[len(b)-1]
	}
	return b[attempt-1]
}

// sleep waits for d or until ctx is done
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
