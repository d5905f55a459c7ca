// Package job holds the upload job lifecycle rules: which status transitions
// are legal and how long to wait between relay attempts.
package job

import (
	"errors"
	"fmt"

	"github.com/target/vidrelay/internal/domain/model"
)

var (
	// ErrTerminalJob indicates an attempt to mutate a completed or failed job.
	ErrTerminalJob = errors.New("job is terminal")
	// ErrInvalidTransition indicates a status change not allowed by the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// next lists the single forward successor of each non-terminal status.
// Failed is reachable from every non-terminal status and is handled separately.
var next = map[model.JobStatus]model.JobStatus{
	model.JobStatusPending:     model.JobStatusDownloading,
	model.JobStatusDownloading: model.JobStatusUploading,
	model.JobStatusUploading:   model.JobStatusCompleted,
}

// ValidateTransition reports whether a job may move from one status to another.
// A transition to the same non-terminal status is allowed so callers can update
// other fields (e.g. attempt counters) without changing phase.
func ValidateTransition(from, to model.JobStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalJob, from)
	}
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from == to || to == model.JobStatusFailed || next[from] == to {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
