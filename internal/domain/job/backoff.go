package job

import (
	"errors"
	"time"
)

var (
	// ErrInvalidBackoffBase indicates the configured base delay is not positive.
	ErrInvalidBackoffBase = errors.New("backoff base must be positive")
	// ErrInvalidMaxAttempts indicates fewer than one attempt was configured.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
)

// BackoffPolicy decides whether another relay attempt is allowed and how long
// to wait before it. Delays grow as min(base*2^attempt, cap).
type BackoffPolicy struct {
	base        time.Duration
	limit       time.Duration
	maxAttempts int
}

// NewBackoffPolicy constructs a BackoffPolicy. A cap below base is raised to base.
func NewBackoffPolicy(maxAttempts int, base, ceiling time.Duration) (*BackoffPolicy, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidMaxAttempts
	}
	if base <= 0 {
		return nil, ErrInvalidBackoffBase
	}
	if ceiling < base {
		ceiling = base
	}
	return &BackoffPolicy{base: base, limit: ceiling, maxAttempts: maxAttempts}, nil
}

// MaxAttempts returns the total number of attempts allowed, including the first.
func (p *BackoffPolicy) MaxAttempts() int {
	if p == nil {
		return 1
	}
	return p.maxAttempts
}

// Cap returns the configured delay ceiling.
func (p *BackoffPolicy) Cap() time.Duration {
	if p == nil {
		return 0
	}
	return p.limit
}

// RetryDecision captures the outcome of evaluating a failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
	// Attempt is the 1-based number of the attempt that just failed.
	Attempt int
}

// Decide evaluates the failure of attempt (1-based). Non-retryable failures and
// exhausted budgets yield Retry=false with no delay.
func (p *BackoffPolicy) Decide(attempt int, retryable bool) RetryDecision {
	d := RetryDecision{Attempt: attempt}
	if p == nil || !retryable || attempt >= p.maxAttempts {
		return d
	}
	d.Retry = true
	d.Delay = p.Delay(attempt)
	return d
}

// Delay returns min(base*2^attempt, cap) for attempt >= 1.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if p == nil {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := p.base
	for range attempt {
		// doubling past the cap would overflow for large attempt counts
		if d >= p.limit {
			return p.limit
		}
		d *= 2
	}
	return min(d, p.limit)
}
