// Package model defines the core data types shared by the vidrelay upload pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxTitleLen       = 100
	maxDescriptionLen = 5000
)

// JobStatus represents the lifecycle state of an upload job.
type JobStatus string

const (
	// JobStatusPending is set when the job is inserted into the registry.
	JobStatusPending JobStatus = "pending"
	// JobStatusDownloading indicates the source size is being resolved.
	JobStatusDownloading JobStatus = "downloading"
	// JobStatusUploading indicates relay attempts are in progress.
	JobStatusUploading JobStatus = "uploading"
	// JobStatusCompleted indicates the destination accepted the payload.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a fatal error or exhausted retries.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusDownloading, JobStatusUploading, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Privacy settings accepted by the destination.
const (
	PrivacyPrivate  = "private"
	PrivacyUnlisted = "unlisted"
	PrivacyPublic   = "public"
)

// Licenses accepted by the destination.
const (
	LicenseStandard       = "youtube"
	LicenseCreativeCommon = "creativeCommon"
)

// VideoMetadata describes the uploaded video. It is passed through to session
// negotiation and otherwise only used for logging.
type VideoMetadata struct {
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	CategoryID    string     `json:"category_id,omitempty"`
	PrivacyStatus string     `json:"privacy_status,omitempty"`
	MadeForKids   *bool      `json:"made_for_kids,omitempty"`
	Embeddable    *bool      `json:"embeddable,omitempty"`
	License       string     `json:"license,omitempty"`
	PublishAt     *time.Time `json:"publish_at,omitempty"`
}

// Validate checks the optional fields. Title presence is enforced by the caller
// because it is only required when a session must be negotiated.
func (m *VideoMetadata) Validate() error {
	if m == nil {
		return nil
	}
	if utf8.RuneCountInString(m.Title) > maxTitleLen {
		return &FieldError{Field: "metadata.title", Message: fmt.Sprintf("cannot exceed %d characters", maxTitleLen)}
	}
	if utf8.RuneCountInString(m.Description) > maxDescriptionLen {
		return &FieldError{
			Field:   "metadata.description",
			Message: fmt.Sprintf("cannot exceed %d characters", maxDescriptionLen),
		}
	}
	if slices.ContainsFunc(m.Tags, func(t string) bool { return strings.TrimSpace(t) == "" }) {
		return &FieldError{Field: "metadata.tags", Message: "cannot contain empty entries"}
	}
	switch m.PrivacyStatus {
	case "", PrivacyPrivate, PrivacyUnlisted, PrivacyPublic:
	default:
		return &FieldError{Field: "metadata.privacy_status", Message: "must be one of private, unlisted, public"}
	}
	switch m.License {
	case "", LicenseStandard, LicenseCreativeCommon:
	default:
		return &FieldError{Field: "metadata.license", Message: "must be youtube or creativeCommon"}
	}
	if m.PublishAt != nil && m.PrivacyStatus != "" && m.PrivacyStatus != PrivacyPrivate {
		return &FieldError{Field: "metadata.publish_at", Message: "scheduled publishing requires private privacy_status"}
	}
	return nil
}

func (m *VideoMetadata) clone() *VideoMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Tags = slices.Clone(m.Tags)
	if m.MadeForKids != nil {
		v := *m.MadeForKids
		c.MadeForKids = &v
	}
	if m.Embeddable != nil {
		v := *m.Embeddable
		c.Embeddable = &v
	}
	if m.PublishAt != nil {
		v := *m.PublishAt
		c.PublishAt = &v
	}
	return &c
}

// UploadResult is the destination's answer to a successful transfer.
type UploadResult struct {
	// ID is the destination-assigned identifier; empty when the response carried none.
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response,omitempty"`
}

// JobError is the failure recorded on a terminal job.
type JobError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// Job is a tracked source-to-destination transfer.
type Job struct {
	ID            string         `json:"id"`
	Status        JobStatus      `json:"status"`
	SourceURL     string         `json:"source_url"`
	Metadata      *VideoMetadata `json:"metadata,omitempty"`
	ContentType   string         `json:"content_type"`
	ContentLength *int64         `json:"content_length,omitempty"`
	Attempts      int            `json:"attempts"`
	Result        *UploadResult  `json:"result,omitempty"`
	Error         *JobError      `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so snapshots handed to callers never alias registry state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Metadata = j.Metadata.clone()
	if j.ContentLength != nil {
		v := *j.ContentLength
		c.ContentLength = &v
	}
	if j.Result != nil {
		r := *j.Result
		r.Response = slices.Clone(j.Result.Response)
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// CreateUploadRequest is the caller-facing job creation payload.
type CreateUploadRequest struct {
	SourceURL     string         `json:"source_url"`
	UploadURL     string         `json:"upload_url,omitempty"`
	Metadata      *VideoMetadata `json:"metadata,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	ContentLength *int64         `json:"content_length,omitempty"`
	Sync          bool           `json:"sync,omitempty"`

	// Credential fields, see CredentialResolver for precedence.
	AccessToken  string `json:"access_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Validate validates the CreateUploadRequest fields.
func (r *CreateUploadRequest) Validate() error {
	if strings.TrimSpace(r.SourceURL) == "" {
		return &FieldError{Field: "source_url", Message: "is required"}
	}
	if err := validateLocation(r.SourceURL, "http", "https", "s3"); err != nil {
		return &FieldError{Field: "source_url", Message: err.Error()}
	}
	if r.UploadURL != "" {
		if err := validateLocation(r.UploadURL, "http", "https"); err != nil {
			return &FieldError{Field: "upload_url", Message: err.Error()}
		}
	} else if r.Metadata == nil || strings.TrimSpace(r.Metadata.Title) == "" {
		return &FieldError{Field: "metadata.title", Message: "is required when upload_url is not supplied"}
	}
	if r.ContentLength != nil && *r.ContentLength <= 0 {
		return &FieldError{Field: "content_length", Message: "must be positive"}
	}
	return r.Metadata.Validate()
}

func validateLocation(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if !slices.Contains(schemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

// FieldError is a validation failure tied to one request field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + " " + e.Message
}

// TransferDescriptor carries everything one relay attempt needs. It is rebuilt
// with identical values for every attempt and never retained.
type TransferDescriptor struct {
	SourceURL   string
	SessionURL  string
	ContentType string
	Length      int64
	AccessToken string
}
