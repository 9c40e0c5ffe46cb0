// Package cache holds the process-wide resolution cache: one serialized
// settings record under a fixed key, dropped on every write.
package cache

import "context"

// Key is the fixed entry the materialized settings record is stored under.
const Key = "setman__custom_cache"

// Cache is a key/value cache without expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Contains(ctx context.Context, key string) (bool, error)
}
