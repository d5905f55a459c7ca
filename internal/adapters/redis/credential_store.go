// Package redis provides Redis-based adapters for vidrelay.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/target/vidrelay/internal/core"
)

const refreshTokenKey = "oauth:refresh_token"

// CredentialStore keeps the stored refresh token in Redis so it survives
// restarts and is shared between replicas.
type CredentialStore struct {
	client redis.UniversalClient
	prefix string
}

// NewCredentialStore creates a Redis-backed credential store.
func NewCredentialStore(client redis.UniversalClient) *CredentialStore {
	return NewCredentialStoreWithPrefix(client, "vidrelay:")
}

// NewCredentialStoreWithPrefix creates a Redis credential store with a custom key prefix.
func NewCredentialStoreWithPrefix(client redis.UniversalClient, prefix string) *CredentialStore {
	return &CredentialStore{
		client: client,
		prefix: prefix,
	}
}

func (s *CredentialStore) RefreshToken(ctx context.Context) (string, error) {
	tok, err := s.client.Get(ctx, s.prefix+refreshTokenKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return tok, nil
}

func (s *CredentialStore) StoreRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return s.client.Del(ctx, s.prefix+refreshTokenKey).Err()
	}
	return s.client.Set(ctx, s.prefix+refreshTokenKey, token, 0).Err()
}

var _ core.CredentialStore = (*CredentialStore)(nil)
