// Package cache provides read-through caching for public, read-heavy lists.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/metrics"
)

// Cache stores JSON encoded values.
type Cache interface {
	// Get decodes the value under key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	// DeletePrefix drops every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Nop) DeletePrefix(context.Context, string) error            { return nil }

// generations counts invalidations per key family (the text before the first
// ':'). A load that overlaps an invalidation of its family is not stored, so
// it cannot put back data the write just dropped. The counter is per
// process; replicas sharing Redis can still race and rely on the TTL.
var generations = struct {
	sync.Mutex
	n map[string]uint64
}{n: map[string]uint64{}}

func family(key string) string {
	f, _, _ := strings.Cut(key, ":")
	return f
}

func generation(key string) uint64 {
	generations.Lock()
	defer generations.Unlock()
	return generations.n[family(key)]
}

func bump(prefix string) {
	generations.Lock()
	generations.n[family(prefix)]++
	generations.Unlock()
}

// Aside returns the cached value for key, or calls load and caches its
// result. Cache failures are logged and treated as misses.
func Aside[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	ok, err := c.Get(ctx, key, &v)
	switch {
	case err != nil:
		metrics.CacheError()
		zap.L().Warn("cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		metrics.CacheHit()
		return v, nil
	default:
		metrics.CacheMiss()
	}
	gen := generation(key)
	v, err = load(ctx)
	if err != nil {
		return v, err
	}
	if generation(key) != gen {
		return v, nil
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		metrics.CacheError()
		zap.L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Invalidate drops prefix, logging instead of failing.
func Invalidate(ctx context.Context, c Cache, prefix string) {
	bump(prefix)
	if err := c.DeletePrefix(ctx, prefix); err != nil {
		metrics.CacheError()
		zap.L().Warn("cache invalidate failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

func encode(v any) ([]byte, error) { return json.Marshal(v) }

func decode(b []byte, dst any) error { return json.Unmarshal(b, dst) }
