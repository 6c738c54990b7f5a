package lock

import (
	"context"
	"time"
)

// Store is the key-value contract the locker needs. Implementations report a
// missing key through the boolean results, never through an error.
type Store interface {
	// SetNX stores value under key only when key is absent, without expiry.
	SetNX(ctx context.Context, key, value string) (bool, error)
	// Expire sets a TTL on an existing key and reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	// Del removes key and reports whether it existed.
	Del(ctx context.Context, key string) (bool, error)
}
