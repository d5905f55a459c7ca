package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/target/vidrelay/internal/core"
	apperrors "github.com/target/vidrelay/internal/errors"
)

// contentLengthField names the request field callers must fill when a size cannot be probed.
const contentLengthField = "content_length"

// errLengthNotReported is the cause recorded when a probe succeeds without a length.
var errLengthNotReported = errors.New("source did not report a content length")

// SizeResolverOptions groups dependencies for SizeResolver.
type SizeResolverOptions struct {
	Source       core.SourceFetcher // Required: probes source locations
	ProbeTimeout time.Duration      // Optional: defaults to 15s
	Logger       *slog.Logger       // Optional: structured logger
}

// SizeResolver determines the byte length of a source payload.
type SizeResolver struct {
	source  core.SourceFetcher
	timeout time.Duration
	logger  *slog.Logger
}

// NewSizeResolver constructs a SizeResolver.
func NewSizeResolver(opts SizeResolverOptions) (*SizeResolver, error) {
	if opts.Source == nil {
		return nil, errors.New("SourceFetcher is required")
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SizeResolver{
		source:  opts.Source,
		timeout: timeout,
		logger:  logger.With("component", "size_resolver"),
	}, nil
}

// Resolve returns supplied unchanged when it is positive. Otherwise it probes
// the source and returns the reported length, or a size_unavailable error
// naming content_length when the source reports none or the probe fails.
func (r *SizeResolver) Resolve(ctx context.Context, sourceURL string, supplied *int64) (int64, error) {
	if supplied != nil && *supplied > 0 {
		return *supplied, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.source.Probe(probeCtx, sourceURL)
	if err != nil {
		r.logger.WarnContext(ctx, "source size probe failed", "source_url", sourceURL, "error", err)
		return 0, apperrors.SizeUnavailable(contentLengthField, err)
	}
	if !res.Known || res.Length <= 0 {
		r.logger.InfoContext(ctx, "source did not report a size", "source_url", sourceURL)
		return 0, apperrors.SizeUnavailable(contentLengthField, errLengthNotReported)
	}
	return res.Length, nil
}
