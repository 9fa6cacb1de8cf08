// Package reauth tracks per-user forced-reauthentication cutoffs: any
// credential issued before the cutoff is invalid. A login performed after the
// cutoff naturally produces credentials that pass, so no clear step exists.
package reauth

import (
	"context"
	"strconv"
	"time"

	"device-trust-engine/internal/cache"
)

const keyPrefix = "reauth:"

// Flags stores reauth cutoffs in the shared cache. Entries live as long as the
// refresh TTL, after which every credential issued before the cutoff has
// expired on its own. Read errors must be treated as "reauth required"
// (fail closed) by callers.
type Flags struct {
	store cache.Store
	ttl   time.Duration
}

// NewFlags returns Flags backed by the given shared store. ttl should be the
// refresh credential lifetime: the longest time a pre-cutoff credential could
// otherwise stay valid.
func NewFlags(store cache.Store, ttl time.Duration) *Flags {
	return &Flags{store: store, ttl: ttl}
}

// RequireAfter records "credentials issued before t are invalid" for the user.
// Used by sensitive operations (credential reset, second-factor reset,
// administrative action). The write is synchronous.
func (f *Flags) RequireAfter(ctx context.Context, userID string, t time.Time) error {
	return f.store.Set(ctx, keyPrefix+userID, strconv.FormatInt(t.UTC().UnixNano(), 10), f.ttl)
}

// CutoffFor returns the user's reauth cutoff and whether one is set. Store
// errors are returned so the caller can fail closed.
func (f *Flags) CutoffFor(ctx context.Context, userID string) (time.Time, bool, error) {
	v, ok, err := f.store.Get(ctx, keyPrefix+userID)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok {
		return time.Time{}, false, nil
	}
	nanos, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// Invalidates reports whether a credential issued at issuedAt is invalidated by
// the user's cutoff. Comparison uses issued-at, not current time, so a login
// performed after the cutoff remains valid. Store errors return (true, err):
// fail closed.
func (f *Flags) Invalidates(ctx context.Context, userID string, issuedAt time.Time) (bool, error) {
	cutoff, ok, err := f.CutoffFor(ctx, userID)
	if err != nil {
		return true, err
	}
	if !ok {
		return false, nil
	}
	return issuedAt.Before(cutoff), nil
}
