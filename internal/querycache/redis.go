package querycache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "qc:"
	redisEpochKey  = "qc-epoch"
	scanBatch      = 200
)

// Redis is a Cache shared by every API replica. The epoch counter lives in
// Redis so that a load racing an invalidation on another replica is also
// discarded.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key.Domain, err)
	}
	return data, nil
}

func (r *Redis) Epoch(ctx context.Context) (uint64, error) {
	return r.readEpoch(ctx, r.client)
}

func (r *Redis) readEpoch(ctx context.Context, cmd redis.Cmdable) (uint64, error) {
	raw, err := cmd.Get(ctx, redisEpochKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache epoch: %w", err)
	}
	epoch, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cache epoch %q: %w", raw, err)
	}
	return epoch, nil
}

func (r *Redis) SetIfCurrent(ctx context.Context, key Key, data []byte, epoch uint64) (bool, error) {
	stored := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := r.readEpoch(ctx, tx)
		if err != nil {
			return err
		}
		if current != epoch {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKeyPrefix+key.String(), data, r.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, redisEpochKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set %s: %w", key.Domain, err)
	}
	return stored, nil
}

// Invalidate bumps the epoch before deleting so an in-flight load that read
// the old epoch cannot write its result back.
func (r *Redis) Invalidate(ctx context.Context, pattern Pattern) error {
	if err := r.client.Incr(ctx, redisEpochKey).Err(); err != nil {
		return fmt.Errorf("bump cache epoch: %w", err)
	}
	if pattern.Exact {
		if err := r.client.Del(ctx, redisKeyPrefix+pattern.String()).Err(); err != nil {
			return fmt.Errorf("invalidate %s: %w", pattern.Domain, err)
		}
		return nil
	}

	match := redisKeyPrefix + globEscape(encode(pattern.Domain, pattern.Scope)) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern.Domain, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("invalidate %s: %w", pattern.Domain, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// globEscape quotes the characters SCAN MATCH treats specially. QueryEscape
// already encodes most of them; '*' survives it.
func globEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
