package cache

import "time"

// BytesCache is a minimal cache API storing raw bytes with TTL.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool)
	SetBytes(key string, value []byte, ttl time.Duration)
	Delete(key string)
}

// ModelKey is the cache key of a symbol's serialized classifier.
func ModelKey(symbol string) string { return "model:" + symbol }
