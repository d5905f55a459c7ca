// Package httpx exposes the upload relay over HTTP.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
	"github.com/target/vidrelay/internal/service"
)

const uploadsPath = "/api/uploads"

// UploadsService is the subset of service.UploadService the handlers use.
type UploadsService interface {
	Create(ctx context.Context, in service.CreateUploadInput) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context) ([]*model.Job, error)
}

// UploadHandlers provides HTTP handlers for upload jobs.
type UploadHandlers struct {
	Svc    UploadsService
	Logger *slog.Logger
}

type acceptedResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	PollURL string `json:"poll_url"`
}

type uploadFailedResponse struct {
	Error   string     `json:"error"`
	Message string     `json:"message"`
	Job     *model.Job `json:"job"`
}

type listResponse struct {
	Jobs  []*model.Job `json:"jobs"`
	Count int          `json:"count"`
}

// Create handles POST /api/uploads. Async requests get 202 with a poll URL;
// sync requests (?sync=true or "sync": true) get the terminal job.
func (h *UploadHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUploadRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if raw := r.URL.Query().Get("sync"); raw != "" {
		sync, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: string(apperrors.ErrCodeValidation),
				Err:     errors.New("sync must be a boolean"),
				Field:   "sync",
			})
			return
		}
		req.Sync = req.Sync || sync
	}

	job, err := h.Svc.Create(r.Context(), service.CreateUploadInput{
		Request:     req,
		BearerToken: bearerToken(r.Header.Get("Authorization")),
	})
	if err != nil {
		// a sync caller that stopped waiting still gets a handle to poll
		if job != nil && apperrors.IsCanceled(err) {
			writeAccepted(w, job)
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	if !req.Sync {
		writeAccepted(w, job)
		return
	}
	switch job.Status {
	case model.JobStatusCompleted:
		WriteJSON(w, http.StatusOK, job)
	case model.JobStatusFailed:
		msg := "upload failed"
		if job.Error != nil {
			msg = job.Error.Message
		}
		WriteJSON(w, http.StatusInternalServerError, uploadFailedResponse{
			Error:   "upload_failed",
			Message: msg,
			Job:     job,
		})
	default:
		writeAccepted(w, job)
	}
}

// Get handles GET /api/uploads/{id}.
func (h *UploadHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")})
		return
	}

	job, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: errors.New("job not found")})
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// List handles GET /api/uploads.
func (h *UploadHandlers) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Svc.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, listResponse{Jobs: jobs, Count: len(jobs)})
}

func writeAccepted(w http.ResponseWriter, job *model.Job) {
	poll := uploadsPath + "/" + job.ID
	w.Header().Set("Location", poll)
	WriteJSON(w, http.StatusAccepted, acceptedResponse{JobID: job.ID, Status: "accepted", PollURL: poll})
}

// writeServiceError maps pre-job AppError codes onto HTTP statuses.
func (h *UploadHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	p := ErrorParams{Err: err, ErrCode: string(apperrors.GetCode(err))}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		p.Code = http.StatusBadRequest
		p.Field = apperrors.GetField(err)
	case apperrors.ErrCodeUnauthorized:
		p.Code = http.StatusUnauthorized
		if reason := apperrors.GetReason(err); reason != "" {
			p.ErrCode = reason
		}
	case apperrors.ErrCodeSizeUnavailable:
		p.Code = http.StatusUnprocessableEntity
		p.Field = apperrors.GetField(err)
	case apperrors.ErrCodeSessionNegotiation:
		p.Code = http.StatusBadGateway
	case apperrors.ErrCodeNotFound:
		p.Code = http.StatusNotFound
	case apperrors.ErrCodeTimeout:
		p.Code = http.StatusGatewayTimeout
	default:
		p.Code = http.StatusInternalServerError
		p.ErrCode = string(apperrors.ErrCodeInternal)
		p.Err = errors.New("internal server error")
		if h.Logger != nil {
			h.Logger.ErrorContext(r.Context(), "upload request failed",
				"request_id", RequestID(r.Context()),
				"error", err,
			)
		}
	}
	WriteError(w, p)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
