// Package coord provides the shared key-value coordination store used for
// idempotency claims. Backends: Redis, DynamoDB and a bounded in-process map.
package coord

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps transport failures. Callers use errors.Is to decide
// whether to degrade to the local store.
var ErrUnavailable = errors.New("coordination store unavailable")

// Store is a TTL key-value store with an atomic set-if-absent.
type Store interface {
	// SetNX stores value under key only if key is absent or expired. It
	// reports whether this call won the write.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Get returns the value and true, or false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set overwrites key with a fresh TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}
