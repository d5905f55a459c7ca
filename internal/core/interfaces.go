// Package core defines the ports between the upload pipeline services and
// their adapters.
package core

import (
	"context"
	"io"

	"github.com/target/vidrelay/internal/domain/model"
)

// This file contains port definitions (hexagonal architecture).
// Service implementations depend on these interfaces, adapters implement them.

// JobRegistry holds upload jobs in process memory.
type JobRegistry interface {
	// Insert adds a new pending job. The id must not already be present.
	Insert(ctx context.Context, job *model.Job) error
	// Get returns a snapshot of the job or a not_found AppError.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update applies mutate to the stored job under the registry lock. The
	// status change it makes is validated against the lifecycle graph, and
	// terminal jobs are rejected before mutate runs. Returns the new snapshot.
	Update(ctx context.Context, id string, mutate func(*model.Job) error) (*model.Job, error)
	// List returns snapshots of all retained jobs, newest first.
	List(ctx context.Context) ([]*model.Job, error)
	// Sweep evicts the oldest jobs beyond the retention bound and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	// Len returns the number of retained jobs.
	Len() int
}

// CredentialStore holds the long-lived refresh token obtained out of band.
type CredentialStore interface {
	// RefreshToken returns the stored token, or "" when none is stored.
	RefreshToken(ctx context.Context) (string, error)
	StoreRefreshToken(ctx context.Context, token string) error
}

// TokenExchangeRequest groups the inputs of an OAuth refresh grant.
type TokenExchangeRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// TokenExchanger trades a refresh token for a short-lived access token.
type TokenExchanger interface {
	Exchange(ctx context.Context, req TokenExchangeRequest) (string, error)
}

// ProbeResult is the outcome of a metadata-only request against a source.
type ProbeResult struct {
	Length int64
	// Known is false when the source did not report a length.
	Known bool
}

// SourceFetcher reads payloads from a source location.
type SourceFetcher interface {
	// Probe issues a metadata-only request, following redirects.
	Probe(ctx context.Context, location string) (ProbeResult, error)
	// Open starts streaming the payload. The caller must close the reader.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// NegotiateInput groups the inputs for creating a destination upload session.
type NegotiateInput struct {
	AccessToken string
	Metadata    *model.VideoMetadata
	ContentType string
	// Length is advertised when positive.
	Length int64
}

// SessionNegotiator creates a resumable upload session and returns its handle.
type SessionNegotiator interface {
	Negotiate(ctx context.Context, in NegotiateInput) (string, error)
}

// UploadInput describes one streamed write to a destination session.
type UploadInput struct {
	SessionURL  string
	AccessToken string
	ContentType string
	Length      int64
	Body        io.Reader
}

// Uploader writes a payload to a negotiated session in a single request.
type Uploader interface {
	Upload(ctx context.Context, in UploadInput) (*model.UploadResult, error)
}
