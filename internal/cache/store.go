// Package cache defines the shared TTL key-value store used for revocation
// entries, brute-force counters, and forced-reauth flags. The store is shared
// across all request-handling processes; implementations must be safe for
// concurrent use. Callers treat store errors as "deny" for security checks.
package cache

import (
	"context"
	"time"
)

// Store is a TTL-bearing key-value store. Writes are idempotent upserts;
// all operations honor the caller's context for cancellation and timeout.
type Store interface {
	// Get returns the value for key. ok is false if the key is missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set upserts key=value with the given TTL. ttl must be positive.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)
	// Increment atomically increments the counter at key and returns the new
	// value. The window TTL is applied when the counter is created.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}
