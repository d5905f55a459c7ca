package config

import (
	"strings"
	"time"
)

const (
	defaultMaxAttempts      = 3
	defaultBackoffBase      = time.Second
	defaultBackoffCap       = 10 * time.Second
	defaultProbeTimeout     = 15 * time.Second
	defaultIdleTimeout      = 60 * time.Second
	defaultRetention        = 100
	defaultSweepInterval    = time.Minute
	defaultContentType      = "video/*"
	defaultSessionURL       = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"
	defaultResultIDPath     = "id"
	defaultNegotiateTimeout = 30 * time.Second
	defaultResponseTimeout  = 2 * time.Minute
)

// RelayConfig controls the upload job pipeline.
type RelayConfig struct {
	// MaxAttempts is the number of transfer attempts per job, including the first.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`

	// BackoffBase and BackoffCap shape the delay min(base*2^attempt, cap).
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffCap  time.Duration `env:"BACKOFF_CAP"  envDefault:"10s"`

	// ProbeTimeout bounds the metadata-only size probe against the source.
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"15s"`

	// SourceIdleTimeout aborts an attempt when the source stream delivers no data.
	SourceIdleTimeout time.Duration `env:"SOURCE_IDLE_TIMEOUT" envDefault:"60s"`

	// Retention is the number of most recently created jobs kept in the registry.
	Retention int `env:"REGISTRY_RETENTION" envDefault:"100"`

	// SweepInterval is how often the registry evicts jobs past Retention.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// DefaultContentType is advertised when the caller does not supply one.
	DefaultContentType string `env:"DEFAULT_CONTENT_TYPE" envDefault:"video/*"`
}

// Sanitize applies guardrails to relay configuration values.
func (r *RelayConfig) Sanitize() {
	if r.MaxAttempts < 1 {
		r.MaxAttempts = defaultMaxAttempts
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = defaultBackoffBase
	}
	if r.BackoffCap <= 0 {
		r.BackoffCap = defaultBackoffCap
	}
	if r.BackoffCap < r.BackoffBase {
		r.BackoffCap = r.BackoffBase
	}
	if r.ProbeTimeout <= 0 {
		r.ProbeTimeout = defaultProbeTimeout
	}
	if r.SourceIdleTimeout <= 0 {
		r.SourceIdleTimeout = defaultIdleTimeout
	}
	if r.Retention < 1 {
		r.Retention = defaultRetention
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = defaultSweepInterval
	}
	if r.DefaultContentType = strings.TrimSpace(r.DefaultContentType); r.DefaultContentType == "" {
		r.DefaultContentType = defaultContentType
	}
}

// DestinationConfig describes the resumable-upload destination service.
type DestinationConfig struct {
	// SessionURL is the fixed session-creation endpoint.
	SessionURL string `env:"SESSION_URL" envDefault:"https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"`

	// ResultIDPath is a JMESPath expression selecting the destination-assigned id
	// from the final upload response body.
	ResultIDPath string `env:"RESULT_ID_PATH" envDefault:"id"`

	// NegotiateTimeout bounds the session negotiation request.
	NegotiateTimeout time.Duration `env:"NEGOTIATE_TIMEOUT" envDefault:"30s"`

	// ResponseTimeout bounds the wait for the upload response once the whole
	// payload has been sent.
	ResponseTimeout time.Duration `env:"RESPONSE_TIMEOUT" envDefault:"2m"`
}

// Sanitize applies guardrails to destination configuration values.
func (d *DestinationConfig) Sanitize() {
	if d.SessionURL = strings.TrimSpace(d.SessionURL); d.SessionURL == "" {
		d.SessionURL = defaultSessionURL
	}
	if d.ResultIDPath = strings.TrimSpace(d.ResultIDPath); d.ResultIDPath == "" {
		d.ResultIDPath = defaultResultIDPath
	}
	if d.NegotiateTimeout <= 0 {
		d.NegotiateTimeout = defaultNegotiateTimeout
	}
	if d.ResponseTimeout <= 0 {
		d.ResponseTimeout = defaultResponseTimeout
	}
}
