package cache

import (
	"context"
	"encoding/json"
	"time"
)

var _ Service = (*LayeredCache)(nil)

// LayeredCache serves hot /latest answers from memory (L1) in front of Redis (L2).
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
	l1TTL      time.Duration
}

// NewLayeredCache creates a layered cache with memory and Redis.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     30 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &LayeredCache{
		memCache:   NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redisCache: redisCache,
		l1TTL:      cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.redisCache.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	l1 := lc.l1TTL
	if expiration > 0 && expiration < l1 {
		l1 = expiration
	}
	_ = lc.memCache.Set(ctx, key, value, l1)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.memCache.Get(ctx, key, dest); err == nil {
		return nil
	}

	if err := lc.redisCache.Get(ctx, key, dest); err != nil {
		return err
	}

	// L1 keeps a copy, not dest itself.
	var v interface{} = dest
	if s, ok := dest.(*string); ok {
		v = *s
	} else if b, err := json.Marshal(dest); err == nil {
		v = string(b)
	}
	_ = lc.memCache.Set(ctx, key, v, lc.l1TTL)
	return nil
}

// DeleteByPattern clears this process's L1 and the shared L2. Other processes' L1
// entries age out after the L1 TTL.
func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.memCache.DeleteByPattern(ctx, pattern)
	return lc.redisCache.DeleteByPattern(ctx, pattern)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	return lc.redisCache.Close()
}
