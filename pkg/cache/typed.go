package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
)

// Load decodes the JSON value stored under key. A payload that no longer decodes
// into T is treated like a corrupt envelope: discarded and reported as a miss.
func Load[T any](ctx context.Context, c *Cache, key Key) (T, bool) {
	var zero T
	payload, ok := c.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		c.discardCorrupt(ctx, key, fmt.Errorf("decode payload: %v: %w", err, apperrors.ErrCacheCorruption))
		return zero, false
	}
	return v, true
}

// Save encodes v as JSON and writes it with the category TTL.
func Save[T any](ctx context.Context, c *Cache, key Key, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value for %s: %w", key.Category, err)
	}
	return c.Put(ctx, key, payload, 0)
}

// GetOrCompute returns the cached value for key, or runs compute and stores its
// result. Concurrent callers with the same key share one computation. The boolean
// reports whether the value came from the cache.
func GetOrCompute[T any](ctx context.Context, c *Cache, key Key, compute func(ctx context.Context) (T, error)) (T, bool, error) {
	if v, ok := Load[T](ctx, c, key); ok {
		return v, true, nil
	}

	res, err, _ := c.group.Do(key.String(), func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return v, err
		}
		if err := Save(ctx, c, key, v); err != nil {
			c.logger.Warn("Failed to store computed value", zap.String("key", key.String()), zap.Error(err))
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}
