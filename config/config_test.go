package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 3, cfg.Relay.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Relay.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.Relay.BackoffCap)
	assert.Equal(t, 15*time.Second, cfg.Relay.ProbeTimeout)
	assert.Equal(t, 60*time.Second, cfg.Relay.SourceIdleTimeout)
	assert.Equal(t, 100, cfg.Relay.Retention)
	assert.Equal(t, "video/*", cfg.Relay.DefaultContentType)
	assert.Equal(t, "id", cfg.Destination.ResultIDPath)
	assert.Contains(t, cfg.Destination.SessionURL, "uploadType=resumable")
	assert.Equal(t, 30*time.Second, cfg.Destination.NegotiateTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Destination.ResponseTimeout)
	assert.Equal(t, "https://oauth2.googleapis.com/token", cfg.Auth.OAuth.TokenURL)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/youtube.upload"}, cfg.Auth.OAuth.Scopes)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.S3.Enabled)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("API_KEYS", " key-one , ,key-two")
	t.Setenv("OAUTH_CLIENT_ID", "client")
	t.Setenv("OAUTH_CLIENT_SECRET", "secret")
	t.Setenv("OAUTH_REFRESH_TOKEN", "refresh")
	t.Setenv("RELAY_MAX_ATTEMPTS", "5")
	t.Setenv("RELAY_BACKOFF_BASE", "250ms")
	t.Setenv("RELAY_BACKOFF_CAP", "2s")
	t.Setenv("RELAY_REGISTRY_RETENTION", "10")
	t.Setenv("DESTINATION_RESULT_ID_PATH", "video.id")
	t.Setenv("DESTINATION_RESPONSE_TIMEOUT", "45s")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_URI", "redis:6379")
	t.Setenv("S3_ENABLED", "true")
	t.Setenv("S3_ENDPOINT", " http://minio:9000 ")
	t.Setenv("LOG_LEVEL", "DEBUG")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.Equal(t, []string{"key-one", "key-two"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.Auth.OAuth.HasClient())
	assert.Equal(t, "refresh", cfg.Auth.OAuth.RefreshToken)
	assert.Equal(t, 5, cfg.Relay.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.BackoffBase)
	assert.Equal(t, 2*time.Second, cfg.Relay.BackoffCap)
	assert.Equal(t, 10, cfg.Relay.Retention)
	assert.Equal(t, "video.id", cfg.Destination.ResultIDPath)
	assert.Equal(t, 45*time.Second, cfg.Destination.ResponseTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.URI)
	assert.True(t, cfg.S3.Enabled)
	assert.Equal(t, "http://minio:9000", cfg.S3.Endpoint)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestRelayConfig_Sanitize(t *testing.T) {
	tests := []struct {
		name string
		in   RelayConfig
		want RelayConfig
	}{
		{
			name: "zero values fall back to defaults",
			in:   RelayConfig{},
			want: RelayConfig{
				MaxAttempts:        3,
				BackoffBase:        time.Second,
				BackoffCap:         10 * time.Second,
				ProbeTimeout:       15 * time.Second,
				SourceIdleTimeout:  60 * time.Second,
				Retention:          100,
				SweepInterval:      time.Minute,
				DefaultContentType: "video/*",
			},
		},
		{
			name: "cap below base is raised to base",
			in: RelayConfig{
				MaxAttempts:        1,
				BackoffBase:        5 * time.Second,
				BackoffCap:         time.Second,
				ProbeTimeout:       time.Second,
				SourceIdleTimeout:  time.Second,
				Retention:          1,
				SweepInterval:      time.Second,
				DefaultContentType: "video/mp4",
			},
			want: RelayConfig{
				MaxAttempts:        1,
				BackoffBase:        5 * time.Second,
				BackoffCap:         5 * time.Second,
				ProbeTimeout:       time.Second,
				SourceIdleTimeout:  time.Second,
				Retention:          1,
				SweepInterval:      time.Second,
				DefaultContentType: "video/mp4",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in
			got.Sanitize()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled: true,
		Slack:   SlackNotificationConfig{Enabled: true},
	}
	cfg.Sanitize()
	assert.False(t, cfg.Slack.Enabled, "slack without webhook must be disabled")
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack:   SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/x"},
	}
	cfg.Sanitize()
	assert.False(t, cfg.Slack.Enabled, "global switch off disables slack")
}
