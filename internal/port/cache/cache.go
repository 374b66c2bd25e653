// Package cache defines the byte-value cache port used for snapshot reuse.
package cache

import (
	"context"
	"time"
)

// Cache stores serialized values under string keys with a per-entry TTL.
// A miss is reported through the bool, not as an error; errors mean the
// backing store itself failed.
type Cache interface {
	// Get returns the cached bytes for key and whether they were present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete drops key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
