// Package cache defines the key/value cache port used by the result pipeline
// and its adapters: Redis for shared deployments and an in-process map for
// single-instance and development setups.
//
// Every adapter is the sole authority on expiry. Callers never re-check TTLs.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps connectivity failures of a cache backend. Callers that
// degrade on cache outages test for it with errors.Is.
var ErrUnavailable = errors.New("cache unavailable")

// Store is a byte-oriented cache with per-entry expiry.
//
// Get returns found=false with a nil error for absent or expired keys.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
