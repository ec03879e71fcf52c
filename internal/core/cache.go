package core

import (
	"context"
	"time"
)

// CacheRepository defines the fast ephemeral cache operations backed by
// Redis. The queue summary cache and the fast tier of the metrics cache
// both sit behind this interface.
type CacheRepository interface {
	// Set stores a value with the given key and TTL. A TTL of 0 means the
	// key does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value by key. Returns nil if the key doesn't exist
	// or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key. Returns true if the key was deleted.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteByPrefix removes every key under the prefix and returns the
	// number removed. Used to drop a project's metrics keys wholesale.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)

	// Health checks the cache connection.
	Health(ctx context.Context) error
}
