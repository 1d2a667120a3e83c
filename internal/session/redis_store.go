// Package session tracks revoked access tokens so logout takes effect before
// a token's natural expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations is the contract the API checks on every authenticated request.
type Revocations interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisStore keeps one key per revoked JTI, expiring with the token itself.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis-backed revocation store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "revoked:",
		now:    time.Now,
	}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + jti
}

// Revoke marks jti as revoked until expiresAt. Already expired tokens are
// a no-op since verification rejects them anyway.
func (s *RedisStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("revoke token: empty jti")
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(jti), expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// PostgresRevocations adapts the store's revoked_access_tokens table.
type PostgresRevocations struct {
	Store interface {
		RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
		IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	}
}

func (p PostgresRevocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	return p.Store.RevokeAccessToken(ctx, jti, expiresAt)
}

func (p PostgresRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return p.Store.IsAccessTokenRevoked(ctx, jti)
}
