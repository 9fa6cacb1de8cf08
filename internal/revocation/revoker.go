// Package revocation marks sessions and refresh credentials as revoked ahead of
// their natural expiry, compensating for access tokens being self-verifying and
// impossible to recall once issued.
package revocation

import (
	"context"
	"time"

	"device-trust-engine/internal/cache"
)

const keyPrefix = "revoked:"

// minTTL is the floor for revocation entries so a concurrent validation that
// already read expiry metadata still sees the entry.
const minTTL = time.Minute

// Revoker writes and checks revocation entries in the shared cache store.
// Writes are synchronous: Revoke does not return until the entry is observable
// by other processes, so a "logout succeeded" response can never race a
// still-valid session. Check errors must be treated as revoked (fail closed).
type Revoker struct {
	store cache.Store
}

// NewRevoker returns a Revoker backed by the given shared store.
func NewRevoker(store cache.Store) *Revoker {
	return &Revoker{store: store}
}

// Revoke marks id (a session or refresh-credential id) as revoked until the
// given time. until must cover the longest remaining lifetime of any access
// credential referencing id; shorter values are clamped up to a safety floor.
// The write is synchronous and the error must not be swallowed by callers.
func (r *Revoker) Revoke(ctx context.Context, id string, until time.Time) error {
	ttl := time.Until(until)
	if ttl < minTTL {
		ttl = minTTL
	}
	return r.store.Set(ctx, keyPrefix+id, "1", ttl)
}

// IsRevoked reports whether id has a live revocation entry. On store failure it
// returns (true, err): an unreachable cache means the check fails closed and
// the caller must deny.
func (r *Revoker) IsRevoked(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Exists(ctx, keyPrefix+id)
	if err != nil {
		return true, err
	}
	return ok, nil
}
