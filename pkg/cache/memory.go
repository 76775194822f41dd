package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	_ Service = (*MemoryCache)(nil)
	_ Locker  = (*MemoryCache)(nil)
)

type memoryItem struct {
	value    interface{}
	expireAt time.Time
	lastRead time.Time
}

// MemoryCache is the in-process Service and Locker. It evicts the least recently read
// entry when full.
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]*memoryItem
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:    make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go mc.sweep(cfg.CleanupInterval)
	return mc
}

// Set stores value. A non-positive expiration keeps it for a week.
func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	if expiration <= 0 {
		expiration = 7 * 24 * time.Hour
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLocked()
	}
	mc.data[key] = &memoryItem{value: value, expireAt: now.Add(expiration), lastRead: now}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	item, ok := mc.data[key]
	now := mc.now()
	if !ok || now.After(item.expireAt) {
		if ok {
			delete(mc.data, key)
		}
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	item.lastRead = now
	value := item.value
	mc.mu.Unlock()
	return assign(value, dest)
}

// assign copies a cached value into dest. Strings and byte slices are copied as is,
// anything else goes through JSON like Redis does.
func assign(value interface{}, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		switch v := value.(type) {
		case string:
			*d = v
			return nil
		case []byte:
			*d = string(v)
			return nil
		}
	case *[]byte:
		switch v := value.(type) {
		case []byte:
			*d = append([]byte(nil), v...)
			return nil
		case string:
			*d = []byte(v)
			return nil
		}
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cache: encode: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("cache: decode: %w", err)
	}
	return nil
}

// DeleteByPattern removes keys matching a glob, same syntax as Redis SCAN MATCH for
// '*' and '?'.
func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("cache: bad pattern %q: %w", pattern, err)
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for key := range mc.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(mc.data, key)
		}
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (Unlock, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	if item, ok := mc.data[key]; ok && !now.After(item.expireAt) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	mc.data[key] = &memoryItem{value: token, expireAt: now.Add(ttl), lastRead: now}
	return func(context.Context) error {
		mc.mu.Lock()
		defer mc.mu.Unlock()
		if item, ok := mc.data[key]; ok && item.value == token {
			delete(mc.data, key)
		}
		return nil
	}, nil
}

func (mc *MemoryCache) evictLocked() {
	var oldest string
	var oldestAt time.Time
	for key, item := range mc.data {
		if oldest == "" || item.lastRead.Before(oldestAt) {
			oldest, oldestAt = key, item.lastRead
		}
	}
	if oldest != "" {
		delete(mc.data, oldest)
	}
}

func (mc *MemoryCache) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			mc.mu.Lock()
			now := mc.now()
			for key, item := range mc.data {
				if now.After(item.expireAt) {
					delete(mc.data, key)
				}
			}
			mc.mu.Unlock()
		case <-mc.stop:
			return
		}
	}
}

// Close stops the expiry sweep.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}
