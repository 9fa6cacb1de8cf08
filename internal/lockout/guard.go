// Package lockout implements the brute-force guard: a sliding failure counter
// in the shared cache plus a durable lock on the user row. The durable lock is
// authoritative, so cache eviction cannot unlock an account early.
package lockout

import (
	"context"
	"fmt"
	"time"

	"device-trust-engine/internal/cache"
	"device-trust-engine/internal/telemetry"
	telemetrydomain "device-trust-engine/internal/telemetry/domain"
	userdomain "device-trust-engine/internal/user/domain"
)

const keyPrefix = "lockfail:"

// UserLocker is the user persistence surface needed by the guard.
type UserLocker interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	SetLock(ctx context.Context, id string, failedCount int, lockedUntil *time.Time) error
	ClearLock(ctx context.Context, id string) error
}

// Guard counts authentication failures per user inside a sliding window and
// locks the account once the threshold is crossed.
type Guard struct {
	users     UserLocker
	counters  cache.Store
	threshold int
	window    time.Duration
	duration  time.Duration
	emitter   telemetry.EventEmitter
}

func NewGuard(users UserLocker, counters cache.Store, threshold int, window, duration time.Duration, emitter telemetry.EventEmitter) *Guard {
	return &Guard{
		users:     users,
		counters:  counters,
		threshold: threshold,
		window:    window,
		duration:  duration,
		emitter:   emitter,
	}
}

// CheckLocked reports whether the user is locked right now. The durable lock
// on the user row decides; expired locks read as unlocked without waiting for
// a cleanup pass.
func (g *Guard) CheckLocked(ctx context.Context, userID string) (bool, error) {
	u, err := g.users.GetByID(ctx, userID)
	if err != nil {
		return true, fmt.Errorf("lockout check: %w", err)
	}
	if u == nil {
		return false, nil
	}
	return u.LockedAt(time.Now().UTC()), nil
}

// RecordFailure counts one failed authentication attempt. When the count
// reaches the threshold within the window it writes the durable lock and
// reports locked=true.
func (g *Guard) RecordFailure(ctx context.Context, userID, ip string) (locked bool, err error) {
	n, err := g.counters.Increment(ctx, keyPrefix+userID, g.window)
	if err != nil {
		return false, fmt.Errorf("failure counter: %w", err)
	}
	telemetry.EmitAsync(g.emitter, ctx, telemetry.NewEvent(
		telemetrydomain.EventLoginFailure, userID, "", ip, nil))
	if n < int64(g.threshold) {
		return false, nil
	}
	until := time.Now().UTC().Add(g.duration)
	if err := g.users.SetLock(ctx, userID, int(n), &until); err != nil {
		return true, fmt.Errorf("write lock: %w", err)
	}
	telemetry.EmitAsync(g.emitter, ctx, telemetry.NewEvent(
		telemetrydomain.EventAccountLocked, userID, "", ip, nil))
	return true, nil
}

// Reset clears the durable lock, then the failure counter. A partial reset
// may leave a stale counter but never a stale lock.
func (g *Guard) Reset(ctx context.Context, userID string) error {
	if err := g.users.ClearLock(ctx, userID); err != nil {
		return err
	}
	return g.counters.Delete(ctx, keyPrefix+userID)
}
