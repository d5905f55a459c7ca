package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/vidrelay/internal/adapters/resumable"
	"github.com/target/vidrelay/internal/adapters/source"
	"github.com/target/vidrelay/internal/core"
	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
	"github.com/target/vidrelay/internal/mocks"
	"github.com/target/vidrelay/internal/testutil/relaytest"
)

func newFixtureRelay(t *testing.T, dest *relaytest.DestinationFixture, idle time.Duration) *Relay {
	t.Helper()
	client, err := resumable.NewClient(resumable.ClientOptions{SessionURL: dest.SessionURL()})
	require.NoError(t, err)
	relay, err := NewRelay(RelayOptions{
		Source:      source.NewHTTPSource(nil),
		Uploader:    client,
		IdleTimeout: idle,
	})
	require.NoError(t, err)
	return relay
}

func TestRelay_Attempt(t *testing.T) {
	payload := bytes.Repeat([]byte("v"), 256<<10)

	tests := []struct {
		name         string
		srcOpts      relaytest.SourceOptions
		response     relaytest.Response
		wantID       string
		wantStatus   int
		wantCode     apperrors.ErrorCode
		wantAttempts int
	}{
		{
			name:         "created",
			response:     relaytest.Response{Status: http.StatusCreated, Body: `{"id":"abc"}`},
			wantID:       "abc",
			wantAttempts: 1,
		},
		{
			name:         "success without length header on source",
			srcOpts:      relaytest.SourceOptions{OmitLength: true},
			response:     relaytest.Response{Status: http.StatusOK, Body: `{"id":"def"}`},
			wantID:       "def",
			wantAttempts: 1,
		},
		{
			name:         "destination unavailable",
			response:     relaytest.Response{Status: http.StatusServiceUnavailable, Body: "busy"},
			wantStatus:   http.StatusServiceUnavailable,
			wantCode:     apperrors.ErrCodeTransfer,
			wantAttempts: 1,
		},
		{
			name:         "resume incomplete",
			response:     relaytest.Response{Status: http.StatusPermanentRedirect},
			wantStatus:   http.StatusPermanentRedirect,
			wantCode:     apperrors.ErrCodeTransfer,
			wantAttempts: 1,
		},
		{
			name:       "source not found",
			srcOpts:    relaytest.SourceOptions{Status: http.StatusNotFound},
			wantStatus: http.StatusNotFound,
			wantCode:   apperrors.ErrCodeTransfer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := relaytest.NewSourceFixture(payload, tt.srcOpts)
			defer src.Close()
			dest := relaytest.NewDestinationFixture(tt.response)
			defer dest.Close()

			relay := newFixtureRelay(t, dest, time.Second)
			res, err := relay.Attempt(context.Background(), model.TransferDescriptor{
				SourceURL:   src.URL(),
				SessionURL:  dest.UploadURL(),
				ContentType: "video/mp4",
				Length:      int64(len(payload)),
				AccessToken: "tok",
			})

			attempts := dest.Attempts()
			require.Len(t, attempts, tt.wantAttempts)
			if tt.wantAttempts > 0 {
				assert.Equal(t, int64(len(payload)), attempts[0].ContentLength)
				assert.Equal(t, "video/mp4", attempts[0].ContentType)
				assert.Equal(t, "Bearer tok", attempts[0].Authorization)
			}

			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, res.ID)
				assert.Equal(t, int64(len(payload)), attempts[0].Received)
				return
			}
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
			assert.Equal(t, tt.wantStatus, apperrors.UpstreamStatus(err))
		})
	}
}

func TestRelay_SourceIdleTimeout(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64<<10)
	src := relaytest.NewSourceFixture(payload, relaytest.SourceOptions{Stall: true})
	defer src.Close()
	dest := relaytest.NewDestinationFixture()
	defer dest.Close()

	relay := newFixtureRelay(t, dest, 50*time.Millisecond)

	start := time.Now()
	_, err := relay.Attempt(context.Background(), model.TransferDescriptor{
		SourceURL:  src.URL(),
		SessionURL: dest.UploadURL(),
		Length:     int64(len(payload)),
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.GetCode(err))
	assert.ErrorIs(t, err, ErrSourceIdle)
	assert.True(t, IsRetryable(err))
}

func TestRelay_SourceHeadersStall(t *testing.T) {
	src := relaytest.NewSourceFixture([]byte("payload"), relaytest.SourceOptions{StallHeaders: true})
	defer src.Close()
	dest := relaytest.NewDestinationFixture()
	defer dest.Close()

	relay := newFixtureRelay(t, dest, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := relay.Attempt(ctx, model.TransferDescriptor{
		SourceURL:  src.URL(),
		SessionURL: dest.UploadURL(),
		Length:     7,
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.GetCode(err))
	assert.ErrorIs(t, err, ErrSourceIdle)
	assert.ErrorIs(t, err, ErrSourceOpen)
	assert.True(t, IsRetryable(err))
	assert.Empty(t, dest.Attempts())
}

func TestRelay_DestinationResponseTimeout(t *testing.T) {
	payload := bytes.Repeat([]byte("r"), 32<<10)
	src := relaytest.NewSourceFixture(payload, relaytest.SourceOptions{})
	defer src.Close()
	dest := relaytest.NewDestinationFixture()
	defer dest.Close()
	dest.Hold()
	defer dest.Release()

	client, err := resumable.NewClient(resumable.ClientOptions{SessionURL: dest.SessionURL()})
	require.NoError(t, err)
	relay, err := NewRelay(RelayOptions{
		Source:          source.NewHTTPSource(nil),
		Uploader:        client,
		IdleTimeout:     5 * time.Second,
		ResponseTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err = relay.Attempt(ctx, model.TransferDescriptor{
		SourceURL:  src.URL(),
		SessionURL: dest.UploadURL(),
		Length:     int64(len(payload)),
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.GetCode(err))
	assert.ErrorIs(t, err, ErrResponseTimeout)
	assert.NotErrorIs(t, err, ErrSourceIdle)
	assert.True(t, IsRetryable(err))
}

type trackingBody struct {
	io.Reader
	closed atomic.Bool
}

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestRelay_ReleasesSourceOnEveryExit(t *testing.T) {
	tests := []struct {
		name      string
		uploadErr error
	}{
		{name: "success"},
		{name: "upload failure", uploadErr: &apperrors.StatusError{StatusCode: 500}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			body := &trackingBody{Reader: bytes.NewReader([]byte("payload"))}

			fetcher := mocks.NewMockSourceFetcher(ctrl)
			fetcher.EXPECT().Open(gomock.Any(), "https://src/a.mp4").Return(body, nil)

			uploader := mocks.NewMockUploader(ctrl)
			uploader.EXPECT().Upload(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, in core.UploadInput) (*model.UploadResult, error) {
					assert.Equal(t, "https://dest/session", in.SessionURL)
					assert.Equal(t, int64(7), in.Length)
					got, err := io.ReadAll(in.Body)
					require.NoError(t, err)
					assert.Equal(t, "payload", string(got))
					if tt.uploadErr != nil {
						return nil, tt.uploadErr
					}
					return &model.UploadResult{ID: "ok"}, nil
				})

			relay, err := NewRelay(RelayOptions{Source: fetcher, Uploader: uploader})
			require.NoError(t, err)

			_, err = relay.Attempt(context.Background(), model.TransferDescriptor{
				SourceURL:  "https://src/a.mp4",
				SessionURL: "https://dest/session",
				Length:     7,
			})
			if tt.uploadErr != nil {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.True(t, body.closed.Load(), "source stream must be closed")
		})
	}
}

func TestRelay_ParentCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockSourceFetcher(ctrl)
	fetcher.EXPECT().Open(gomock.Any(), gomock.Any()).
		Return(io.NopCloser(bytes.NewReader([]byte("payload"))), nil)

	uploader := mocks.NewMockUploader(ctrl)
	uploader.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ core.UploadInput) (*model.UploadResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	relay, err := NewRelay(RelayOptions{Source: fetcher, Uploader: uploader})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err = relay.Attempt(ctx, model.TransferDescriptor{SourceURL: "https://src/a.mp4", Length: 7})
	require.Error(t, err)
	assert.True(t, apperrors.IsCanceled(err))
	assert.False(t, IsRetryable(err))
}

func TestRelay_OpenFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockSourceFetcher(ctrl)
	fetcher.EXPECT().Open(gomock.Any(), gomock.Any()).Return(nil, errors.New("dial tcp: no route"))

	relay, err := NewRelay(RelayOptions{Source: fetcher, Uploader: mocks.NewMockUploader(ctrl)})
	require.NoError(t, err)

	_, err = relay.Attempt(context.Background(), model.TransferDescriptor{SourceURL: "https://src/a.mp4"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceOpen)
	assert.Equal(t, apperrors.ErrCodeTransfer, apperrors.GetCode(err))
}

func TestIdleReader_StopPreventsFiring(t *testing.T) {
	var fired atomic.Bool
	r := newIdleReader(bytes.NewReader([]byte("abc")), 20*time.Millisecond, func() { fired.Store(true) })

	buf := make([]byte, 8)
	_, err := r.Read(buf)
	require.NoError(t, err)
	r.stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestIdleReader_DrainSwitchesToResponseWindow(t *testing.T) {
	var idleFired, respFired atomic.Bool
	r := newIdleReader(bytes.NewReader([]byte("abc")), 20*time.Millisecond, func() { idleFired.Store(true) })
	r.awaitResponse(30*time.Millisecond, func() { respFired.Store(true) })

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	assert.Eventually(t, respFired.Load, time.Second, 5*time.Millisecond)
	assert.False(t, idleFired.Load(), "a drained source must not count as idle")
}

func TestIdleReader_StopCancelsResponseWindow(t *testing.T) {
	var respFired atomic.Bool
	r := newIdleReader(bytes.NewReader([]byte("abc")), time.Second, func() {})
	r.awaitResponse(20*time.Millisecond, func() { respFired.Store(true) })

	_, err := io.ReadAll(r)
	require.NoError(t, err)
	r.stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, respFired.Load())
}

func TestNewRelay_RequiresDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, err := NewRelay(RelayOptions{Uploader: mocks.NewMockUploader(ctrl)})
	require.Error(t, err)
	_, err = NewRelay(RelayOptions{Source: mocks.NewMockSourceFetcher(ctrl)})
	require.Error(t, err)
}
