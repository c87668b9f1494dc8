package pipeline

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/dvloznov/invoice-verifier/internal/domain"
)

// RetryPolicy bounds in-process retries of persistence calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy tries three times with jittered exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// delay returns a full-jitter delay in [0, min(base*2^attempt, max)).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(d)))
	if err != nil {
		return d / 2
	}
	return time.Duration(n.Int64())
}

// withRetry runs op until it succeeds, fails with a non-retryable error, or
// the attempts run out. A cancelled context during backoff counts as a
// persistence failure.
func withRetry(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !domain.IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &domain.PersistenceError{Op: op, Err: ctx.Err()}
		}
	}
	return err
}
