package config

import "strings"

// S3Config enables s3://bucket/key source locations.
type S3Config struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Region  string `env:"REGION"`
	// Endpoint overrides the service endpoint for S3-compatible stores (MinIO, LocalStack).
	Endpoint     string `env:"ENDPOINT"`
	UsePathStyle bool   `env:"USE_PATH_STYLE" envDefault:"false"`
}

// Sanitize trims configured values.
func (s *S3Config) Sanitize() {
	s.Region = strings.TrimSpace(s.Region)
	s.Endpoint = strings.TrimSpace(s.Endpoint)
}
