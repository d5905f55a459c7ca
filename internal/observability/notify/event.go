// Package notify defines the payload and sink contract for upload failure notifications.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailurePayload captures what we know about an upload job when it fails.
type JobFailurePayload struct {
	JobID     string
	SourceURL string
	Title     string
	// Phase is the job status the failure happened in (downloading, uploading).
	Phase      string
	Attempts   int
	Error      string
	ErrorKind  string
	ErrorClass string
	// StatusCode is the upstream HTTP status when the failure came from one.
	StatusCode int
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming job failure notifications.
type Sink interface {
	SendJobFailure(ctx context.Context, payload JobFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobFailurePayload) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, payload JobFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
