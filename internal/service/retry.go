package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	domainjob "github.com/target/vidrelay/internal/domain/job"
	apperrors "github.com/target/vidrelay/internal/errors"
)

// Waiter blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type Waiter func(ctx context.Context, d time.Duration) error

// AttemptFunc performs attempt n (1-based).
type AttemptFunc func(ctx context.Context, n int) error

// RetrierOptions groups dependencies for Retrier.
type RetrierOptions struct {
	Policy *domainjob.BackoffPolicy // Required: attempt budget and delays
	Wait   Waiter                   // Optional: defaults to a context-aware timer
	Logger *slog.Logger             // Optional: structured logger
}

// Retrier drives an AttemptFunc until it succeeds, fails fatally or the
// attempt budget is spent.
type Retrier struct {
	policy *domainjob.BackoffPolicy
	wait   Waiter
	logger *slog.Logger
}

// NewRetrier constructs a Retrier.
func NewRetrier(opts RetrierOptions) (*Retrier, error) {
	if opts.Policy == nil {
		return nil, errors.New("BackoffPolicy is required")
	}
	wait := opts.Wait
	if wait == nil {
		wait = timerWait
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		policy: opts.Policy,
		wait:   wait,
		logger: logger.With("component", "retrier"),
	}, nil
}

// Do runs attempt until it returns nil. A fatal failure, or a retryable one
// on the last allowed attempt, is returned at once with no delay. A cancelled
// wait between attempts yields a canceled error carrying the last failure.
func (r *Retrier) Do(ctx context.Context, attempt AttemptFunc) error {
	for n := 1; ; n++ {
		err := attempt(ctx, n)
		if err == nil {
			return nil
		}

		decision := r.policy.Decide(n, IsRetryable(err))
		if !decision.Retry {
			return err
		}

		r.logger.InfoContext(ctx, "retrying relay attempt",
			"attempt", n,
			"max_attempts", r.policy.MaxAttempts(),
			"delay", decision.Delay,
			"error", err,
		)
		if werr := r.wait(ctx, decision.Delay); werr != nil {
			return apperrors.Wrap(errors.Join(err, werr), apperrors.ErrCodeCanceled, "retry wait interrupted")
		}
	}
}

// IsRetryable reports whether a failed relay attempt is worth repeating.
// Destination 5xx and 308 answers, connection resets and timeouts on either
// leg (including the source idle watchdog and the destination response
// window) are transient; everything else is fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeCanceled:
		return false
	case apperrors.ErrCodeTimeout:
		return true
	}

	if errors.Is(err, ErrSourceIdle) || errors.Is(err, ErrResponseTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var se *apperrors.StatusError
	if errors.As(err, &se) {
		if errors.Is(err, ErrSourceOpen) {
			return false
		}
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusPermanentRedirect
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func timerWait(ctx context.Context, d time.Duration) error {
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
