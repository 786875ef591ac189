package remote

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Backoff is the retry schedule applied around every record-service call.
// The zero value is not usable; start from [DefaultBackoff] or supply your
// own via [WithBackoff].
type Backoff struct {
	// MaxAttempts is the total number of tries before giving up.
	MaxAttempts int

	// BaseDelay is the starting backoff interval (before jitter).
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration
}

// DefaultBackoff is the schedule used when a Client is built without
// [WithBackoff].
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Retry executes fn up to MaxAttempts times, sleeping between attempts per
// the schedule. It returns nil on the first successful call, or a wrapped
// error containing the last failure if all attempts are exhausted. Retries
// never extend past the current call: a call that exhausts its attempts is
// reported as a single failure and the record waits for the next
// reconciliation pass.
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range b.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < b.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(b.delay(attempt)):
			}
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", b.MaxAttempts, lastErr)
}

// delay computes the sleep for a given attempt index, applying exponential
// growth with 50–100 % jitter.
func (b Backoff) delay(attempt int) time.Duration {
	d := b.BaseDelay * (1 << attempt)
	if d > b.MaxDelay {
		d = b.MaxDelay
	}
	// Jitter: uniform in [d/2, d).
	jitter := time.Duration(rand.Int63n(int64(d) / 2)) //nolint:gosec // jitter does not need crypto/rand
	return d/2 + jitter
}
