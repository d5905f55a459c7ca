// Package metrics emits the standard upload pipeline metrics to a statsd.Sink.
package metrics

import (
	"maps"
	"strconv"
	"time"

	obserrors "github.com/target/vidrelay/internal/observability/errors"
	"github.com/target/vidrelay/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultRetry   = "retry"
)

// TransitionMetric captures a job status change.
type TransitionMetric struct {
	// Transition is the new status (downloading, uploading, completed, failed).
	Transition string
	Result     string
	// Duration is the time spent since the job was created.
	Duration time.Duration
	Err      error
}

// EmitTransition emits standardised upload lifecycle metrics.
func EmitTransition(sink statsd.Sink, in TransitionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("upload.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("upload.duration", in.Duration, CloneTags(tags))
	}
}

// AttemptMetric captures the outcome of a single relay attempt.
type AttemptMetric struct {
	Attempt  int
	Result   string
	Duration time.Duration
	// Bytes is the declared payload length.
	Bytes int64
	Err   error
}

// EmitAttempt emits one relay attempt outcome.
func EmitAttempt(sink statsd.Sink, in AttemptMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"attempt": strconv.Itoa(in.Attempt),
		"result":  in.Result,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("upload.attempt", 1, tags)
	if in.Duration > 0 {
		sink.Timing("upload.attempt_duration", in.Duration, CloneTags(tags))
	}
	if in.Result == ResultSuccess && in.Bytes > 0 {
		sink.Count("upload.bytes", in.Bytes, nil)
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
