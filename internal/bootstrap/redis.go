package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/vidrelay/config"
	redisadapter "github.com/target/vidrelay/internal/adapters/redis"
	"github.com/target/vidrelay/internal/core"
	"github.com/target/vidrelay/internal/data"
)

// ConnectRedis establishes a connection to Redis. It returns nil when Redis is disabled.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single or sentinel clients at runtime.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		client   redis.UniversalClient
		addrDesc string
		err      error
	)
	if cfg.UseSentinel {
		client, addrDesc, err = newSentinelClient(cfg)
	} else {
		client, addrDesc, err = newDirectClient(cfg)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if logger != nil {
		logger.InfoContext(ctx, "redis connected", "addr", redactAddr(addrDesc))
	}
	return client, nil
}

//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func newSentinelClient(cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	if len(cfg.SentinelNodes) == 0 {
		return nil, "", errors.New("redis sentinel configuration requires at least one sentinel node")
	}
	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       cfg.SentinelMasterName,
		SentinelAddrs:    cfg.SentinelNodes,
		Password:         cfg.Password,
		SentinelPassword: cfg.SentinelPassword,
		DB:               cfg.DB,
	})
	return client, "sentinel:" + cfg.SentinelMasterName, nil
}

//nolint:ireturn // returning redis.UniversalClient keeps client selection flexible.
func newDirectClient(cfg config.RedisConfig) (redis.UniversalClient, string, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, "", errors.New("redis direct configuration requires a URI")
	}

	if strings.HasPrefix(uri, "redis://") || strings.HasPrefix(uri, "rediss://") {
		opt, err := redis.ParseURL(uri)
		if err != nil {
			return nil, "", fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), uri, nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     uri,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), uri, nil
}

// redactAddr strips credentials from a connection description before logging.
func redactAddr(addr string) string {
	if u, err := url.Parse(addr); err == nil && u.User != nil {
		return u.Redacted()
	}
	if i := strings.LastIndex(addr, "@"); i > -1 {
		return addr[i+1:]
	}
	return addr
}

// CredentialStoreConfig groups inputs for NewCredentialStore.
type CredentialStoreConfig struct {
	Redis     redis.UniversalClient // Optional: memory store when nil
	KeyPrefix string
	// Seed, when set, replaces the stored refresh token at startup.
	Seed   string
	Logger *slog.Logger
}

// NewCredentialStore picks the Redis or in-memory store and applies the startup seed.
//
//nolint:ireturn // callers only need the port.
func NewCredentialStore(ctx context.Context, cfg CredentialStoreConfig) (core.CredentialStore, error) {
	if cfg.Redis == nil {
		return data.NewMemoryCredentialStore(cfg.Seed), nil
	}

	store := redisadapter.NewCredentialStoreWithPrefix(cfg.Redis, cfg.KeyPrefix)
	if cfg.Seed == "" {
		return store, nil
	}
	if err := store.StoreRefreshToken(ctx, cfg.Seed); err != nil {
		return nil, fmt.Errorf("seed stored refresh token: %w", err)
	}
	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "seeded stored refresh token", "backend", "redis")
	}
	return store, nil
}
