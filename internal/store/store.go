package store

import (
	"context"
	"time"
)

// Store is the narrow capability the presence core needs from a durable
// key-value store: replace-on-write values with per-key expiration.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Close() error
}
