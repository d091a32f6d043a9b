package keepalive

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryBudget bounds one reconnect campaign. The first EscalationThreshold
// retries wait BaseDelay, later ones EscalatedDelay. Once MaxAttempts retries
// have been handed out NextBackOff returns backoff.Stop.
type RetryBudget struct {
	attempts            int
	maxAttempts         int
	baseDelay           time.Duration
	escalatedDelay      time.Duration
	escalationThreshold int
}

// NewRetryBudget creates a budget for a single campaign.
func NewRetryBudget(maxAttempts int, baseDelay, escalatedDelay time.Duration, escalationThreshold int) *RetryBudget {
	return &RetryBudget{
		maxAttempts:         maxAttempts,
		baseDelay:           baseDelay,
		escalatedDelay:      escalatedDelay,
		escalationThreshold: escalationThreshold,
	}
}

// NextBackOff consumes one retry and returns how long to wait before it.
func (b *RetryBudget) NextBackOff() time.Duration {
	i := b.attempts
	if i >= b.maxAttempts {
		return backoff.Stop
	}
	b.attempts++

	if i < b.escalationThreshold {
		return b.baseDelay
	}
	return b.escalatedDelay
}

// Reset returns the budget to zero attempts.
func (b *RetryBudget) Reset() {
	b.attempts = 0
}

// Attempts returns the number of retries consumed so far.
func (b *RetryBudget) Attempts() int {
	return b.attempts
}

// MaxAttempts returns the campaign limit.
func (b *RetryBudget) MaxAttempts() int {
	return b.maxAttempts
}

var _ backoff.BackOff = (*RetryBudget)(nil)

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
