// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. The cache is a pure
// optimization: callers must behave correctly when every call misses or fails.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Purge removes every entry whose key starts with prefix; an empty
	// prefix removes everything. Backends that cannot enumerate keys may
	// over-purge, which is safe for an advisory cache.
	Purge(ctx context.Context, prefix string) error
}
