package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	ErrLocked    = errors.New("cache: lock held")
)

// Service caches JSON-encodable answers under namespaced keys.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	// DeleteByPattern drops keys matching a glob built with Pattern.
	DeleteByPattern(ctx context.Context, pattern string) error
}

// Unlock releases a lock taken by TryLock.
type Unlock func(ctx context.Context) error

// Locker hands out expiring exclusive locks. Releasing is owner-checked: a lock that
// expired and was taken by someone else is left alone.
type Locker interface {
	// TryLock returns ErrLocked when another holder has key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

// Key joins prefix and parts with ':'.
func Key(prefix string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		fmt.Fprintf(&b, ":%v", p)
	}
	return b.String()
}

// Pattern matches every key starting with prefix.
func Pattern(prefix string) string { return prefix + "*" }
