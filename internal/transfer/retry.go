package transfer

import (
	"context"
	"time"
)

const maxBackoff = 5 * time.Second

// retry calls fn up to attempts times, doubling the wait after each failure.
// It returns how many attempts were made and the last error.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return i, nil
		}
		if i == attempts {
			return i, err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return i, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return attempts, err
}
