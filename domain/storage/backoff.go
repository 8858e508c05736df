package storage

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// BackoffPolicy decides how a rate-limited call is retried.
// The wait is the backend's retry_after hint (or DefaultWait when the
// backend gave none) plus Padding, optionally spread by Jitter.
type BackoffPolicy struct {
	Padding     time.Duration // added to every wait (default: 1s)
	DefaultWait time.Duration // used when the backend gives no hint (default: 1s)
	MaxAttempts int           // 0 retries for as long as the backend keeps rate limiting
	Jitter      float64       // ±fraction of the wait, 0 disables

	// Sleep waits for d or until ctx is done. Tests replace it to avoid real timers.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultBackoffPolicy returns the policy used for uploads: honor the
// backend hint plus one second, with no attempt limit
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Padding:     time.Second,
		DefaultWait: time.Second,
	}
}

// WaitFor returns how long to wait before retrying after err
func (p BackoffPolicy) WaitFor(err error) time.Duration {
	wait, ok := RetryAfter(err)
	if !ok || wait <= 0 {
		wait = p.DefaultWait
	}
	wait += p.Padding
	if p.Jitter > 0 {
		spread := float64(wait) * p.Jitter
		wait += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Do runs call and retries it while it fails with a rate-limit error.
// Any other error, or success, ends the loop.
func (p BackoffPolicy) Do(ctx context.Context, call func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	for attempt := 1; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if _, limited := RetryAfter(err); !limited {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("gave up after %d rate-limited attempts: %w", attempt, err)
		}

		wait := p.WaitFor(err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// SleepContext waits for d or until ctx is done
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
