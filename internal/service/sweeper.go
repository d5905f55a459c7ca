package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/target/vidrelay/internal/core"
	obserrors "github.com/target/vidrelay/internal/observability/errors"
	"github.com/target/vidrelay/internal/observability/metrics"
	"github.com/target/vidrelay/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Registry core.JobRegistry // Required: registry to trim
	Interval time.Duration    // Required: time between sweeps
	Logger   *slog.Logger     // Optional: structured logger
	Metrics  statsd.Sink      // Optional: metrics sink (StatsD-compatible)
}

// SweeperService periodically evicts jobs beyond the registry's retention bound.
type SweeperService struct {
	registry core.JobRegistry
	interval time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Registry == nil {
		return nil, errors.New("JobRegistry is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "registry_sweeper")
		logger.Debug("SweeperService initialized", "interval", opts.Interval)
	}

	return &SweeperService{
		registry: opts.Registry,
		interval: opts.Interval,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Run sweeps at the configured interval until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), the context error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting registry sweeper", "interval", s.interval)
	}

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "registry sweeper stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single sweep and reports how many jobs were evicted.
func (s *SweeperService) SweepOnce(ctx context.Context) int {
	start := time.Now()
	evicted, err := s.registry.Sweep(ctx)
	s.emitSweepMetrics(evicted, time.Since(start), err)

	switch {
	case err != nil && s.logger != nil:
		s.logger.ErrorContext(ctx, "registry sweep failed", "error", err)
	case evicted > 0 && s.logger != nil:
		s.logger.InfoContext(ctx, "evicted old upload jobs", "count", evicted, "retained", s.registry.Len())
	}
	return evicted
}

// waitWithJitter adds a random delay up to 10% of the interval so replicas
// started together do not sweep in lockstep.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *SweeperService) emitSweepMetrics(evicted int, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case evicted == 0:
		result = metrics.ResultNoop
	}
	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("registry.sweep", 1, tags)
	s.metrics.Timing("registry.sweep_duration", elapsed, metrics.CloneTags(tags))
	if evicted > 0 {
		s.metrics.Count("registry.evicted", int64(evicted), nil)
	}
	s.metrics.Gauge("registry.size", float64(s.registry.Len()), nil)
}
