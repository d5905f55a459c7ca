package config

import "strings"

// RedisConfig contains configuration for the Redis-backed credential store.
// When disabled the stored refresh token lives in process memory.
type RedisConfig struct {
	Enabled            bool     `env:"ENABLED"              envDefault:"false"`
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	KeyPrefix          string   `env:"KEY_PREFIX"           envDefault:"vidrelay:"`
}

// Sanitize normalises Redis settings.
func (r *RedisConfig) Sanitize() {
	r.URI = strings.TrimSpace(r.URI)
	if r.URI == "" && !r.UseSentinel {
		r.Enabled = false
	}
	if r.DB < 0 {
		r.DB = 0
	}
	if r.KeyPrefix == "" {
		r.KeyPrefix = "vidrelay:"
	}
}
