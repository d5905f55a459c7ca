package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/target/vidrelay/internal/core"
	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
)

var (
	// ErrSourceIdle is the cancellation cause recorded when the source stream
	// stops delivering bytes for longer than the idle window.
	ErrSourceIdle = errors.New("source stream idle timeout")
	// ErrSourceOpen marks failures to start the source stream, so upstream
	// status codes from the source are not mistaken for destination answers.
	ErrSourceOpen = errors.New("open source")
	// ErrResponseTimeout is the cancellation cause recorded when the destination
	// does not answer within the response window after the payload was sent.
	ErrResponseTimeout = errors.New("destination response timeout")
)

// RelayOptions groups dependencies for Relay.
type RelayOptions struct {
	Source   core.SourceFetcher // Required: opens the source stream
	Uploader core.Uploader      // Required: writes to the destination session
	// IdleTimeout aborts an attempt when the source delivers no bytes for this long.
	// It also bounds the wait for the source response headers. Defaults to 60s.
	IdleTimeout time.Duration
	// ResponseTimeout bounds the wait for the destination answer once the
	// source is drained. Defaults to 2m.
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

// Relay performs single streaming transfer attempts from a source to a
// destination session. The payload is piped through the destination request
// body, so memory use is bounded by transport buffers regardless of size.
type Relay struct {
	source   core.SourceFetcher
	uploader core.Uploader
	idle     time.Duration
	response time.Duration
	logger   *slog.Logger
}

// NewRelay constructs a Relay.
func NewRelay(opts RelayOptions) (*Relay, error) {
	if opts.Source == nil {
		return nil, errors.New("SourceFetcher is required")
	}
	if opts.Uploader == nil {
		return nil, errors.New("Uploader is required")
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	response := opts.ResponseTimeout
	if response <= 0 {
		response = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		source:   opts.Source,
		uploader: opts.Uploader,
		idle:     idle,
		response: response,
		logger:   logger.With("component", "relay"),
	}, nil
}

// Attempt streams the source to the session once. It never retries; see Retrier.
// Both streams are released before Attempt returns.
func (r *Relay) Attempt(ctx context.Context, d model.TransferDescriptor) (*model.UploadResult, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// a source that accepts the connection but never answers is idle too
	opening := time.AfterFunc(r.idle, func() { cancel(ErrSourceIdle) })
	body, err := r.source.Open(ctx, d.SourceURL)
	opening.Stop()
	if err != nil {
		return nil, attemptError(ctx, fmt.Errorf("%w: %w", ErrSourceOpen, err))
	}

	watched := newIdleReader(body, r.idle, func() { cancel(ErrSourceIdle) })
	watched.awaitResponse(r.response, func() { cancel(ErrResponseTimeout) })
	defer func() {
		watched.stop()
		if cerr := body.Close(); cerr != nil {
			r.logger.DebugContext(ctx, "close source stream", "error", cerr)
		}
	}()

	res, err := r.uploader.Upload(ctx, core.UploadInput{
		SessionURL:  d.SessionURL,
		AccessToken: d.AccessToken,
		ContentType: d.ContentType,
		Length:      d.Length,
		Body:        watched,
	})
	if err != nil {
		return nil, attemptError(ctx, err)
	}
	return res, nil
}

// attemptError classifies a failed attempt. The idle watchdog and parent
// cancellation both surface from the transport as context errors, so the
// cancellation cause decides which code the failure carries.
func attemptError(ctx context.Context, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrSourceIdle):
		return apperrors.Wrap(errors.Join(ErrSourceIdle, err), apperrors.ErrCodeTimeout, "relay attempt timed out")
	case errors.Is(cause, ErrResponseTimeout):
		return apperrors.Wrap(errors.Join(ErrResponseTimeout, err), apperrors.ErrCodeTimeout, "destination response timed out")
	case errors.Is(cause, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "relay attempt canceled")
	default:
		return apperrors.Wrap(err, apperrors.ErrCodeTransfer, "relay attempt failed")
	}
}

// idleReader fires once when no bytes arrive for the configured window. The
// window starts at the first Read so a slow destination handshake is not
// charged to the source. Once the source is drained the idle window is
// replaced by the response window, if one is set.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	fire    func()

	respTimeout time.Duration
	respFire    func()

	arm     sync.Once
	mu      sync.Mutex
	timer   *time.Timer
	drained bool
	stopped bool
}

func newIdleReader(r io.Reader, timeout time.Duration, fire func()) *idleReader {
	return &idleReader{r: r, timeout: timeout, fire: fire}
}

// awaitResponse starts a timer of d at EOF that calls fire unless stop runs first.
func (w *idleReader) awaitResponse(d time.Duration, fire func()) {
	w.respTimeout = d
	w.respFire = fire
}

func (w *idleReader) Read(p []byte) (int, error) {
	w.arm.Do(func() {
		w.mu.Lock()
		if !w.stopped {
			w.timer = time.AfterFunc(w.timeout, w.fire)
		}
		w.mu.Unlock()
	})
	n, err := w.r.Read(p)
	if errors.Is(err, io.EOF) {
		w.drain()
		return n, err
	}
	if n > 0 {
		w.mu.Lock()
		if w.timer != nil && !w.stopped && !w.drained {
			w.timer.Reset(w.timeout)
		}
		w.mu.Unlock()
	}
	return n, err
}

// drain swaps the idle timer for the response timer; waiting on the
// destination is not source idleness.
func (w *idleReader) drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drained || w.stopped {
		return
	}
	w.drained = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.respTimeout > 0 && w.respFire != nil {
		w.timer = time.AfterFunc(w.respTimeout, w.respFire)
	}
}

// stop disarms both timers; reads after stop never re-arm them.
func (w *idleReader) stop() {
	w.arm.Do(func() {})
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
