package sync

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with full jitter, capped at
// MaxDelay.  Jitter keeps a fleet of workers that failed together from
// retrying together.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}

	if delay <= 0 {
		return 0
	}

	return time.Duration(rand.Int63n(int64(delay))) + 1
}

// sleepContext waits for the given duration unless the context is cancelled
// first.
func sleepContext(ctx context.Context, d time.Duration) error {
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
