package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
	"github.com/target/vidrelay/internal/service"
)

// fakeUploads records the last Create input and answers with canned values.
type fakeUploads struct {
	lastInput service.CreateUploadInput
	createJob *model.Job
	createErr error
	jobs      map[string]*model.Job
	listErr   error
}

func (f *fakeUploads) Create(_ context.Context, in service.CreateUploadInput) (*model.Job, error) {
	f.lastInput = in
	return f.createJob, f.createErr
}

func (f *fakeUploads) Get(_ context.Context, id string) (*model.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, apperrors.NotFoundf("job %s not found", id)
}

func (f *fakeUploads) List(context.Context) ([]*model.Job, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*model.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

const createBody = `{"source_url":"https://cdn.example.com/a.mp4","upload_url":"https://up.example.com/s/1"}`

func serve(t *testing.T, svc UploadsService, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewRouter(RouterServices{Uploads: svc}).ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got
}

func TestCreateUpload_AsyncAccepted(t *testing.T) {
	svc := &fakeUploads{createJob: &model.Job{ID: "job-1", Status: model.JobStatusPending}}

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer header-token")
	rec := serve(t, svc, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/uploads/job-1", rec.Header().Get("Location"))
	got := decodeMap(t, rec)
	assert.Equal(t, "job-1", got["job_id"])
	assert.Equal(t, "accepted", got["status"])
	assert.Equal(t, "/api/uploads/job-1", got["poll_url"])

	assert.Equal(t, "header-token", svc.lastInput.BearerToken)
	assert.Equal(t, "https://cdn.example.com/a.mp4", svc.lastInput.Request.SourceURL)
	assert.False(t, svc.lastInput.Request.Sync)
}

func TestCreateUpload_SyncOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		job        *model.Job
		wantStatus int
		wantError  string
	}{
		{
			name:       "query flag completed",
			target:     "/api/uploads?sync=true",
			body:       createBody,
			job:        &model.Job{ID: "job-2", Status: model.JobStatusCompleted, Result: &model.UploadResult{ID: "yt-1"}},
			wantStatus: http.StatusOK,
		},
		{
			name:   "body flag failed",
			target: "/api/uploads",
			body:   `{"source_url":"https://cdn.example.com/a.mp4","upload_url":"https://up.example.com/s/1","sync":true}`,
			job: &model.Job{
				ID:     "job-3",
				Status: model.JobStatusFailed,
				Error:  &model.JobError{Kind: "transfer", Message: "upstream returned status 403", StatusCode: 403},
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "upload_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeUploads{createJob: tt.job}
			rec := serve(t, svc, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.True(t, svc.lastInput.Request.Sync)

			got := decodeMap(t, rec)
			if tt.wantError == "" {
				assert.Equal(t, tt.job.ID, got["id"])
				return
			}
			assert.Equal(t, tt.wantError, got["error"])
			assert.Equal(t, tt.job.Error.Message, got["message"])
			job, ok := got["job"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.job.ID, job["id"])
		})
	}
}

func TestCreateUpload_SyncCallerGaveUp(t *testing.T) {
	svc := &fakeUploads{
		createJob: &model.Job{ID: "job-4", Status: model.JobStatusUploading},
		createErr: apperrors.Wrap(context.Canceled, apperrors.ErrCodeCanceled, "stopped waiting for job"),
	}
	rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads?sync=1", strings.NewReader(createBody)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "job-4", decodeMap(t, rec)["job_id"])
}

func TestCreateUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{
			name:       "validation",
			err:        apperrors.ValidationField("source_url", "source_url is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation",
			wantField:  "source_url",
		},
		{
			name:       "missing auth",
			err:        apperrors.Unauthorized(apperrors.ReasonMissingAuth, "no credential", nil),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "missing_auth",
		},
		{
			name:       "exchange failed",
			err:        apperrors.Unauthorized(apperrors.ReasonAuthExchangeFailed, "exchange failed", errors.New("invalid_grant")),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "auth_exchange_failed",
		},
		{
			name:       "size unavailable",
			err:        apperrors.SizeUnavailable("content_length", errors.New("no length")),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "size_unavailable",
			wantField:  "content_length",
		},
		{
			name: "session negotiation",
			err: apperrors.Wrap(&apperrors.StatusError{StatusCode: 401},
				apperrors.ErrCodeSessionNegotiation, "session negotiation failed"),
			wantStatus: http.StatusBadGateway,
			wantCode:   "session_negotiation",
		},
		{
			name:       "unexpected",
			err:        errors.New("registry exploded"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeUploads{createErr: tt.err}
			rec := serve(t, svc, httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(createBody)))

			require.Equal(t, tt.wantStatus, rec.Code)
			got := decodeMap(t, rec)
			assert.Equal(t, tt.wantCode, got["error"])
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, got["field"])
			}
			if tt.wantStatus == http.StatusInternalServerError {
				assert.NotContains(t, got["message"], "registry exploded")
			}
		})
	}
}

func TestCreateUpload_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		code   string
	}{
		{name: "malformed json", target: "/api/uploads", body: "{bad", code: "invalid_json"},
		{name: "empty body", target: "/api/uploads", body: "", code: "invalid_json"},
		{name: "unknown field", target: "/api/uploads", body: `{"source":"x"}`, code: "invalid_json"},
		{name: "bad sync flag", target: "/api/uploads?sync=maybe", body: createBody, code: "validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeUploads{}
			rec := serve(t, svc, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeMap(t, rec)["error"])
			assert.Empty(t, svc.lastInput.Request.SourceURL, "service not called")
		})
	}
}

func TestGetUpload(t *testing.T) {
	svc := &fakeUploads{jobs: map[string]*model.Job{
		"job-1": {ID: "job-1", Status: model.JobStatusDownloading, Attempts: 0},
	}}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/uploads/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeMap(t, rec)
	assert.Equal(t, "job-1", got["id"])
	assert.Equal(t, "downloading", got["status"])

	rec = serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/uploads/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job_not_found", decodeMap(t, rec)["error"])
}

func TestListUploads(t *testing.T) {
	svc := &fakeUploads{jobs: map[string]*model.Job{
		"a": {ID: "a", Status: model.JobStatusCompleted},
		"b": {ID: "b", Status: model.JobStatusPending},
	}}

	rec := serve(t, svc, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	assert.Len(t, got.Jobs, 2)

	rec = serve(t, &fakeUploads{}, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[],"count":0}`, rec.Body.String())
}

func TestRouter_RequiresAPIKey(t *testing.T) {
	svc := &fakeUploads{jobs: map[string]*model.Job{"job-1": {ID: "job-1", Status: model.JobStatusPending}}}
	router := NewRouter(RouterServices{Uploads: svc, APIKeys: []string{"secret-key"}})

	tests := []struct {
		name   string
		path   string
		key    string
		status int
	}{
		{name: "missing key", path: "/api/uploads/job-1", status: http.StatusUnauthorized},
		{name: "wrong key", path: "/api/uploads/job-1", key: "nope", status: http.StatusUnauthorized},
		{name: "valid key", path: "/api/uploads/job-1", key: "secret-key", status: http.StatusOK},
		{name: "health is open", path: "/healthz", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"Basic dXNlcjpw": "",
		"Bearer":         "",
		"":               "",
	}
	for header, want := range tests {
		assert.Equal(t, want, bearerToken(header), "header %q", header)
	}
}
