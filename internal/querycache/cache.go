package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache stores encoded query results. Invalidate is idempotent and safe to
// call concurrently with reads and writes.
type Cache interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	// Epoch returns the current invalidation epoch.
	Epoch(ctx context.Context) (uint64, error)
	// SetIfCurrent stores data unless an invalidation happened after epoch
	// was read. It reports whether the value was stored.
	SetIfCurrent(ctx context.Context, key Key, data []byte, epoch uint64) (bool, error)
	Invalidate(ctx context.Context, pattern Pattern) error
}

// Loader reads through a Cache, coalescing concurrent loads of one key.
type Loader struct {
	cache  Cache
	logger *zap.Logger
	group  singleflight.Group
}

func NewLoader(cache Cache, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: cache, logger: logger}
}

func (l *Loader) Cache() Cache {
	return l.cache
}

// Fetch returns the cached value for key, or runs load and caches its
// result. Cache failures degrade to a direct load.
func Fetch[T any](ctx context.Context, l *Loader, key Key, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if raw, err := l.cache.Get(ctx, key); err == nil {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			return value, nil
		}
		l.logger.Warn("discarding undecodable cache entry", zap.String("key", key.String()))
	} else if !errors.Is(err, ErrMiss) {
		l.logger.Warn("cache read failed", zap.String("key", key.String()), zap.Error(err))
	}

	result, err, _ := l.group.Do(key.String(), func() (any, error) {
		epoch, epochErr := l.cache.Epoch(ctx)
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if epochErr != nil {
			l.logger.Warn("cache epoch read failed", zap.Error(epochErr))
			return value, nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key.Domain, err)
		}
		if _, err := l.cache.SetIfCurrent(ctx, key, raw, epoch); err != nil {
			l.logger.Warn("cache write failed", zap.String("key", key.String()), zap.Error(err))
		}
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("cache loader returned %T for %s", result, key.Domain)
	}
	return value, nil
}
