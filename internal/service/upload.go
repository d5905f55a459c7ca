package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/vidrelay/internal/core"
	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
	obserrors "github.com/target/vidrelay/internal/observability/errors"
	"github.com/target/vidrelay/internal/observability/metrics"
	"github.com/target/vidrelay/internal/observability/notify"
	"github.com/target/vidrelay/internal/observability/statsd"
)

const defaultContentType = "video/*"

// FailureNotifier receives terminal job failures.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// SourceSupport reports whether a source location can be fetched.
type SourceSupport interface {
	Supports(location string) bool
}

// UploadPipeline groups the collaborators that move bytes.
type UploadPipeline struct {
	Sizes      *SizeResolver          // Required
	Negotiator core.SessionNegotiator // Required
	Relay      *Relay                 // Required
	Retrier    *Retrier               // Required
	Sources    SourceSupport          // Optional: rejects disabled source schemes up front
}

// UploadObservability groups the optional logging, metrics and notification hooks.
type UploadObservability struct {
	Logger   *slog.Logger
	Metrics  statsd.Sink
	Notifier FailureNotifier
}

// UploadServiceOptions groups dependencies for UploadService.
type UploadServiceOptions struct {
	Registry      core.JobRegistry    // Required
	Credentials   *CredentialResolver // Required
	Pipeline      UploadPipeline
	Observability UploadObservability
	// DefaultContentType is advertised when the request names none.
	DefaultContentType string
}

// UploadService owns the upload job lifecycle: it validates requests,
// registers jobs and drives each one to a terminal state on its own goroutine.
type UploadService struct {
	registry    core.JobRegistry
	credentials *CredentialResolver
	pipeline    UploadPipeline
	contentType string

	logger   *slog.Logger
	metrics  statsd.Sink
	notifier FailureNotifier

	// jobsCtx outlives requests; canceling it aborts every running job.
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
}

// NewUploadService constructs an UploadService.
func NewUploadService(opts UploadServiceOptions) (*UploadService, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("JobRegistry is required")
	case opts.Credentials == nil:
		return nil, errors.New("CredentialResolver is required")
	case opts.Pipeline.Sizes == nil:
		return nil, errors.New("SizeResolver is required")
	case opts.Pipeline.Negotiator == nil:
		return nil, errors.New("SessionNegotiator is required")
	case opts.Pipeline.Relay == nil:
		return nil, errors.New("Relay is required")
	case opts.Pipeline.Retrier == nil:
		return nil, errors.New("Retrier is required")
	}

	logger := opts.Observability.Logger
	if logger == nil {
		logger = slog.Default()
	}
	contentType := strings.TrimSpace(opts.DefaultContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	jobsCtx, cancel := context.WithCancel(context.Background())
	return &UploadService{
		registry:    opts.Registry,
		credentials: opts.Credentials,
		pipeline:    opts.Pipeline,
		contentType: contentType,
		logger:      logger.With("component", "upload_service"),
		metrics:     opts.Observability.Metrics,
		notifier:    opts.Observability.Notifier,
		jobsCtx:     jobsCtx,
		cancelJobs:  cancel,
	}, nil
}

// CreateUploadInput is a creation request plus the credential from its headers.
type CreateUploadInput struct {
	Request     model.CreateUploadRequest
	BearerToken string
}

// transferPlan is everything a job goroutine needs besides the registry record.
type transferPlan struct {
	jobID       string
	sourceURL   string
	sessionURL  string
	contentType string
	accessToken string
	// length is zero when it still has to be resolved.
	length  int64
	started time.Time
	// last is the newest snapshot the job goroutine wrote. Create reads it
	// only after the goroutine is done.
	last *model.Job
}

// Create validates the request, resolves a credential and, when no upload
// session was supplied, sizes the source and negotiates one. Any failure up
// to here is returned and no job exists. The job is then registered as
// pending and run: in the background for async requests (the pending
// snapshot is returned), inline for sync requests (the terminal record is
// returned).
func (s *UploadService) Create(ctx context.Context, in CreateUploadInput) (*model.Job, error) {
	req := in.Request
	if err := req.Validate(); err != nil {
		return nil, validationError(err)
	}
	if s.pipeline.Sources != nil && !s.pipeline.Sources.Supports(req.SourceURL) {
		return nil, apperrors.ValidationField("source_url", "source_url scheme is not enabled")
	}

	token, err := s.credentials.Resolve(ctx, CredentialInput{
		BearerToken:  in.BearerToken,
		AccessToken:  req.AccessToken,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	plan := &transferPlan{
		sourceURL:   req.SourceURL,
		sessionURL:  req.UploadURL,
		contentType: s.resolveContentType(req.ContentType),
		accessToken: token,
	}
	if req.ContentLength != nil {
		plan.length = *req.ContentLength
	}

	if plan.sessionURL == "" {
		if err := s.negotiate(ctx, plan, req.Metadata); err != nil {
			return nil, err
		}
	}

	job := &model.Job{
		ID:          uuid.NewString(),
		Status:      model.JobStatusPending,
		SourceURL:   req.SourceURL,
		Metadata:    req.Metadata,
		ContentType: plan.contentType,
	}
	if plan.length > 0 {
		job.ContentLength = &plan.length
	}
	if err := s.registry.Insert(ctx, job); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to register job")
	}
	plan.jobID = job.ID
	plan.started = time.Now()
	plan.last = job.Clone()

	s.logger.InfoContext(ctx, "upload job created",
		"job_id", job.ID,
		"source_url", job.SourceURL,
		"title", titleOf(job.Metadata),
		"sync", req.Sync,
	)
	metrics.EmitTransition(s.metrics, metrics.TransitionMetric{
		Transition: string(model.JobStatusPending),
		Result:     metrics.ResultSuccess,
	})

	done := s.launch(ctx, plan)
	if !req.Sync {
		return job.Clone(), nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		// the job keeps running; the caller can still poll it
		snapshot, _ := s.registry.Get(context.WithoutCancel(ctx), job.ID)
		return snapshot, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "stopped waiting for job")
	}
	final, err := s.registry.Get(ctx, job.ID)
	if apperrors.IsNotFound(err) {
		// swept while running; the caller still gets what the job last recorded
		s.logger.WarnContext(ctx, "job evicted before sync caller read it", "job_id", job.ID)
		return plan.last.Clone(), nil
	}
	return final, err
}

// negotiate sizes the source and opens a destination session for plan.
func (s *UploadService) negotiate(ctx context.Context, plan *transferPlan, meta *model.VideoMetadata) error {
	var supplied *int64
	if plan.length > 0 {
		supplied = &plan.length
	}
	length, err := s.pipeline.Sizes.Resolve(ctx, plan.sourceURL, supplied)
	if err != nil {
		return err
	}
	plan.length = length

	session, err := s.pipeline.Negotiator.Negotiate(ctx, core.NegotiateInput{
		AccessToken: plan.accessToken,
		Metadata:    meta,
		ContentType: plan.contentType,
		Length:      length,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "session negotiation failed",
			"source_url", plan.sourceURL,
			"status", apperrors.UpstreamStatus(err),
			"error", err,
		)
		return err
	}
	plan.sessionURL = session
	return nil
}

// launch starts the job goroutine and returns a channel closed when it ends.
// The job context keeps request values but not request cancellation, so a
// disconnecting client does not abandon the job.
func (s *UploadService) launch(ctx context.Context, plan *transferPlan) <-chan struct{} {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.jobsCtx, cancel)

	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		defer cancel()
		defer stop()
		s.run(jobCtx, plan)
	}()
	return done
}

// run drives one job from pending to a terminal status.
func (s *UploadService) run(ctx context.Context, plan *transferPlan) {
	logger := s.logger.With("job_id", plan.jobID)

	if err := s.advance(ctx, plan, model.JobStatusDownloading, nil); err != nil {
		logger.WarnContext(ctx, "job left registry before start", "error", err)
		return
	}

	if plan.length <= 0 {
		length, err := s.pipeline.Sizes.Resolve(ctx, plan.sourceURL, nil)
		if err != nil {
			s.fail(ctx, plan, model.JobStatusDownloading, 0, err)
			return
		}
		plan.length = length
	}

	err := s.advance(ctx, plan, model.JobStatusUploading, func(j *model.Job) {
		length := plan.length
		j.ContentLength = &length
	})
	if err != nil {
		logger.WarnContext(ctx, "job left registry before upload", "error", err)
		return
	}

	var (
		result   *model.UploadResult
		attempts int
	)
	err = s.pipeline.Retrier.Do(ctx, func(ctx context.Context, n int) error {
		attempts = n
		snapshot, err := s.registry.Update(ctx, plan.jobID, func(j *model.Job) error {
			j.Attempts = n
			return nil
		})
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record attempt")
		}
		plan.last = snapshot

		started := time.Now()
		res, err := s.pipeline.Relay.Attempt(ctx, plan.descriptor())
		s.emitAttempt(n, plan.length, time.Since(started), err)
		if err != nil {
			logger.WarnContext(ctx, "relay attempt failed",
				"attempt", n,
				"retryable", IsRetryable(err),
				"error", err,
			)
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		s.fail(ctx, plan, model.JobStatusUploading, attempts, err)
		return
	}

	if err := s.advance(ctx, plan, model.JobStatusCompleted, func(j *model.Job) {
		j.Result = result
	}); err != nil {
		logger.ErrorContext(ctx, "failed to record completion", "error", err)
		return
	}
	logger.InfoContext(ctx, "upload job completed",
		"attempts", attempts,
		"destination_id", result.ID,
		"duration", time.Since(plan.started),
	)
}

// advance moves the job to status, applying extra to the record first.
func (s *UploadService) advance(
	ctx context.Context,
	plan *transferPlan,
	status model.JobStatus,
	extra func(*model.Job),
) error {
	snapshot, err := s.registry.Update(ctx, plan.jobID, func(j *model.Job) error {
		if extra != nil {
			extra(j)
		}
		j.Status = status
		return nil
	})
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else {
		plan.last = snapshot
	}
	in := metrics.TransitionMetric{Transition: string(status), Result: result, Err: err}
	if status.Terminal() {
		in.Duration = time.Since(plan.started)
	}
	metrics.EmitTransition(s.metrics, in)
	return err
}

// fail records a terminal failure and reports it to logs, metrics and notifiers.
func (s *UploadService) fail(ctx context.Context, plan *transferPlan, phase model.JobStatus, attempts int, cause error) {
	// recording the failure must survive the cancellation that may have caused it
	ctx = context.WithoutCancel(ctx)

	jobErr := &model.JobError{
		Kind:       errorKind(cause),
		Message:    cause.Error(),
		StatusCode: apperrors.UpstreamStatus(cause),
	}
	job, err := s.registry.Update(ctx, plan.jobID, func(j *model.Job) error {
		j.Status = model.JobStatusFailed
		j.Error = jobErr
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record job failure",
			"job_id", plan.jobID,
			"phase", phase,
			"error", errors.Join(cause, err),
		)
		return
	}
	plan.last = job

	s.logger.ErrorContext(ctx, "upload job failed",
		"job_id", plan.jobID,
		"phase", phase,
		"attempts", attempts,
		"kind", jobErr.Kind,
		"status", jobErr.StatusCode,
		"error", cause,
	)
	metrics.EmitTransition(s.metrics, metrics.TransitionMetric{
		Transition: string(model.JobStatusFailed),
		Result:     metrics.ResultError,
		Duration:   time.Since(plan.started),
		Err:        cause,
	})

	if s.notifier == nil {
		return
	}
	s.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:      job.ID,
		SourceURL:  job.SourceURL,
		Title:      titleOf(job.Metadata),
		Phase:      string(phase),
		Attempts:   attempts,
		Error:      jobErr.Message,
		ErrorKind:  jobErr.Kind,
		ErrorClass: obserrors.Classify(cause),
		StatusCode: jobErr.StatusCode,
		OccurredAt: time.Now(),
	})
}

func (s *UploadService) emitAttempt(n int, length int64, elapsed time.Duration, err error) {
	result := metrics.ResultSuccess
	switch {
	case err != nil && IsRetryable(err):
		result = metrics.ResultRetry
	case err != nil:
		result = metrics.ResultError
	}
	metrics.EmitAttempt(s.metrics, metrics.AttemptMetric{
		Attempt:  n,
		Result:   result,
		Duration: elapsed,
		Bytes:    length,
		Err:      err,
	})
}

// Get returns a snapshot of a job or a not_found error.
func (s *UploadService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.registry.Get(ctx, id)
}

// List returns snapshots of all retained jobs, newest first.
func (s *UploadService) List(ctx context.Context) ([]*model.Job, error) {
	return s.registry.List(ctx)
}

// Wait blocks until every running job has finished. If ctx ends first the
// remaining jobs are canceled (they fail with kind canceled) and ctx's error
// is returned once they have recorded it.
func (s *UploadService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "canceling in-flight upload jobs", "error", ctx.Err())
		s.cancelJobs()
		<-done
		return fmt.Errorf("wait for upload jobs: %w", ctx.Err())
	}
}

func (s *UploadService) resolveContentType(requested string) string {
	if ct := strings.TrimSpace(requested); ct != "" {
		return ct
	}
	return s.contentType
}

func (p *transferPlan) descriptor() model.TransferDescriptor {
	return model.TransferDescriptor{
		SourceURL:   p.sourceURL,
		SessionURL:  p.sessionURL,
		ContentType: p.contentType,
		Length:      p.length,
		AccessToken: p.accessToken,
	}
}

func validationError(err error) error {
	var fe *model.FieldError
	if errors.As(err, &fe) {
		return apperrors.ValidationField(fe.Field, fe.Error())
	}
	return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid upload request")
}

func errorKind(err error) string {
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	return string(apperrors.ErrCodeInternal)
}

func titleOf(m *model.VideoMetadata) string {
	if m == nil {
		return ""
	}
	return m.Title
}
