package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainjob "github.com/target/vidrelay/internal/domain/job"
	apperrors "github.com/target/vidrelay/internal/errors"
)

// waitRecorder is a Waiter that returns immediately and remembers the delays asked for.
type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *waitRecorder) recorded() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

func newTestRetrier(t *testing.T, maxAttempts int, waits *waitRecorder) *Retrier {
	t.Helper()
	policy, err := domainjob.NewBackoffPolicy(maxAttempts, time.Second, 10*time.Second)
	require.NoError(t, err)
	r, err := NewRetrier(RetrierOptions{Policy: policy, Wait: waits.wait})
	require.NoError(t, err)
	return r
}

func destinationStatus(code int) error {
	return apperrors.Wrap(&apperrors.StatusError{StatusCode: code}, apperrors.ErrCodeTransfer, "relay attempt failed")
}

func TestRetrier_RecoversAfterTransientFailures(t *testing.T) {
	waits := &waitRecorder{}
	r := newTestRetrier(t, 3, waits)

	var calls []int
	err := r.Do(context.Background(), func(_ context.Context, n int) error {
		calls = append(calls, n)
		if n < 3 {
			return destinationStatus(503)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, calls)
	delays := waits.recorded()
	require.Len(t, delays, 2)
	assert.Less(t, delays[0], delays[1])
	assert.LessOrEqual(t, delays[1], 10*time.Second)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
}

func TestRetrier_FatalFailureStopsImmediately(t *testing.T) {
	waits := &waitRecorder{}
	r := newTestRetrier(t, 3, waits)

	calls := 0
	err := r.Do(context.Background(), func(context.Context, int) error {
		calls++
		return destinationStatus(403)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits.recorded())
	assert.Equal(t, 403, apperrors.UpstreamStatus(err))
}

func TestRetrier_ExhaustedReturnsLastFailure(t *testing.T) {
	waits := &waitRecorder{}
	r := newTestRetrier(t, 4, waits)

	err := r.Do(context.Background(), func(_ context.Context, n int) error {
		return fmt.Errorf("attempt %d: %w", n, destinationStatus(502))
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 4")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, waits.recorded())
}

func TestRetrier_CanceledWait(t *testing.T) {
	policy, err := domainjob.NewBackoffPolicy(3, time.Hour, time.Hour)
	require.NoError(t, err)
	r, err := NewRetrier(RetrierOptions{Policy: policy})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, func(context.Context, int) error {
			calls++
			return destinationStatus(500)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, apperrors.IsCanceled(err))
		assert.Equal(t, 500, apperrors.UpstreamStatus(err), "last failure is preserved")
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry wait did not honour cancellation")
	}
}

func TestNewRetrier_RequiresPolicy(t *testing.T) {
	_, err := NewRetrier(RetrierOptions{})
	require.Error(t, err)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "destination 500", err: destinationStatus(500), want: true},
		{name: "destination 503", err: destinationStatus(503), want: true},
		{name: "destination 308", err: destinationStatus(308), want: true},
		{name: "destination 403", err: destinationStatus(403), want: false},
		{name: "destination 400", err: destinationStatus(400), want: false},
		{
			name: "source 503",
			err:  fmt.Errorf("%w: %w", ErrSourceOpen, &apperrors.StatusError{StatusCode: 503}),
			want: false,
		},
		{name: "connection reset", err: fmt.Errorf("put: %w", reset), want: true},
		{name: "source connection reset", err: fmt.Errorf("%w: %w", ErrSourceOpen, reset), want: true},
		{name: "net timeout", err: fmt.Errorf("put: %w", timeoutErr{}), want: true},
		{name: "deadline", err: fmt.Errorf("put: %w", context.DeadlineExceeded), want: true},
		{
			name: "idle watchdog",
			err:  apperrors.Wrap(errors.Join(ErrSourceIdle, context.Canceled), apperrors.ErrCodeTimeout, "timed out"),
			want: true,
		},
		{
			name: "canceled",
			err:  apperrors.Wrap(context.Canceled, apperrors.ErrCodeCanceled, "canceled"),
			want: false,
		},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestTimerWait(t *testing.T) {
	require.NoError(t, timerWait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, timerWait(ctx, time.Hour), context.Canceled)
}
