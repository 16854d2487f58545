package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"graphgate.org/internal/obs"
)

var _ Registry = (*RedisRegistry)(nil)

// RedisRegistry implements Registry on Redis so revocation is shared
// across API instances. Keys store a hash of the token, never the token
// itself, and carry a TTL ceiling as defense in depth; the gateway still
// checks the embedded expiry independently.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "session"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return r.prefix + ":" + hex.EncodeToString(sum[:])
}

func (r *RedisRegistry) Issue(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return errEmptyToken
	}
	if ttl <= 0 {
		return fmt.Errorf("session: ttl must be greater than zero")
	}
	obs.ObserveSessionOp("issue")
	if err := r.client.Set(ctx, r.key(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("session: issue: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Check(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	obs.ObserveSessionOp("check")
	err := r.client.Get(ctx, r.key(token)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session: check: %w", err)
	}
	return true, nil
}

func (r *RedisRegistry) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	obs.ObserveSessionOp("revoke")
	if err := r.client.Del(ctx, r.key(token)).Err(); err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}
