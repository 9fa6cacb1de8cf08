package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	devicedomain "device-trust-engine/internal/device/domain"
	"device-trust-engine/internal/session/domain"
	"device-trust-engine/internal/telemetry"
	telemetrydomain "device-trust-engine/internal/telemetry/domain"
	tokendomain "device-trust-engine/internal/token/domain"
)

// ErrNotFound covers both missing records and records owned by another user.
// Ownership mismatches are indistinguishable from absence to the caller.
var ErrNotFound = errors.New("not found")

// SessionRepo is the session persistence surface needed by the manager.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*domain.DeviceSession, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.DeviceSession, error)
	Create(ctx context.Context, s *domain.DeviceSession) error
	MarkTrusted(ctx context.Context, id, deviceID string) error
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	UpdateLastActivity(ctx context.Context, id string, at time.Time) error
	RevokeExpired(ctx context.Context, before time.Time) ([]string, error)
}

// DeviceRepo is the trusted-device persistence surface needed by the manager.
type DeviceRepo interface {
	GetByID(ctx context.Context, id string) (*devicedomain.TrustedDevice, error)
	GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*devicedomain.TrustedDevice, error)
	ListByUser(ctx context.Context, userID string) ([]*devicedomain.TrustedDevice, error)
	Create(ctx context.Context, d *devicedomain.TrustedDevice) error
	Rename(ctx context.Context, id, displayName string) error
	UpdateLastUsed(ctx context.Context, id, ip, location string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// CredentialRevoker retires refresh credentials alongside their sessions.
type CredentialRevoker interface {
	RevokeAllBySession(ctx context.Context, sessionID, reason string) error
	RevokeAllByUser(ctx context.Context, userID, reason string) error
}

// Revoker is the revocation cache client surface needed by the manager.
type Revoker interface {
	Revoke(ctx context.Context, id string, until time.Time) error
}

// PendingResolver closes open approval requests for a session that became
// trusted through another path, so the approval sweep never tears down a
// legitimately trusted session.
type PendingResolver interface {
	ResolvePendingBySession(ctx context.Context, sessionID string) error
}

// Manager owns the session lifecycle: starting sessions with device
// recognition, binding approved sessions to trusted devices, and the
// revocation paths. Revoking a session always retires its refresh credentials
// and pushes the session id into the revocation cache.
type Manager struct {
	sessions   SessionRepo
	devices    DeviceRepo
	creds      CredentialRevoker
	revoker    Revoker
	approvals  PendingResolver
	sessionTTL time.Duration
	accessTTL  time.Duration
	emitter    telemetry.EventEmitter
}

func NewManager(
	sessions SessionRepo,
	devices DeviceRepo,
	creds CredentialRevoker,
	revoker Revoker,
	sessionTTL, accessTTL time.Duration,
	emitter telemetry.EventEmitter,
) *Manager {
	return &Manager{
		sessions:   sessions,
		devices:    devices,
		creds:      creds,
		revoker:    revoker,
		sessionTTL: sessionTTL,
		accessTTL:  accessTTL,
		emitter:    emitter,
	}
}

// SetApprovalResolver wires the approval service in after construction; the
// approval service itself depends on the manager for session binding. A nil
// resolver disables the cascade.
func (m *Manager) SetApprovalResolver(r PendingResolver) {
	m.approvals = r
}

// StartSession opens a session for an authenticated user. When the device
// fingerprint matches a trusted device of the user, the session starts
// trusted and bound to it; otherwise it starts untrusted and the caller must
// open an approval challenge before the session is usable.
func (m *Manager) StartSession(ctx context.Context, userID string, meta domain.Metadata) (sess *domain.DeviceSession, recognized bool, err error) {
	now := time.Now().UTC()
	sess = &domain.DeviceSession{
		ID:          uuid.New().String(),
		UserID:      userID,
		Fingerprint: meta.Fingerprint,
		Browser:     meta.Browser,
		OS:          meta.OS,
		IPAddress:   meta.IPAddress,
		Location:    meta.Location,
		ExpiresAt:   now.Add(m.sessionTTL),
		CreatedAt:   now,
	}

	dev, err := m.devices.GetByUserAndFingerprint(ctx, userID, meta.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	if dev != nil {
		sess.DeviceID = dev.ID
		sess.Trusted = true
		recognized = true
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, false, err
	}
	if dev != nil {
		_ = m.devices.UpdateLastUsed(ctx, dev.ID, meta.IPAddress, meta.Location, now)
	}
	return sess, recognized, nil
}

// TrustSession binds the session to a trusted device record, creating one for
// the fingerprint if the user has none, and flips the session to trusted.
// Called when an approval resolves, and directly for a user trusting their
// current device. Any approval request still open for the session is closed
// as approved, so the direct path does not leave a pending request behind for
// the sweeper to act on.
func (m *Manager) TrustSession(ctx context.Context, sessionID string) error {
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	dev, err := m.devices.GetByUserAndFingerprint(ctx, sess.UserID, sess.Fingerprint)
	if err != nil {
		return err
	}
	if dev == nil {
		dev = &devicedomain.TrustedDevice{
			ID:           uuid.New().String(),
			UserID:       sess.UserID,
			Fingerprint:  sess.Fingerprint,
			DisplayName:  displayName(sess),
			LastIP:       sess.IPAddress,
			LastLocation: sess.Location,
			TrustedAt:    now,
		}
		if err := m.devices.Create(ctx, dev); err != nil {
			return err
		}
	} else {
		_ = m.devices.UpdateLastUsed(ctx, dev.ID, sess.IPAddress, sess.Location, now)
	}
	if err := m.sessions.MarkTrusted(ctx, sessionID, dev.ID); err != nil {
		return err
	}
	if m.approvals != nil {
		_ = m.approvals.ResolvePendingBySession(ctx, sessionID)
	}
	return nil
}

// displayName derives a human-readable default from the captured context.
func displayName(sess *domain.DeviceSession) string {
	switch {
	case sess.Browser != "" && sess.OS != "":
		return sess.Browser + " on " + sess.OS
	case sess.Browser != "":
		return sess.Browser
	case sess.OS != "":
		return sess.OS
	default:
		return "Unknown device"
	}
}

// GetSession returns the session by id, or nil if not found.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*domain.DeviceSession, error) {
	return m.sessions.GetByID(ctx, sessionID)
}

// ListSessions returns the user's active sessions, most recent first.
func (m *Manager) ListSessions(ctx context.Context, userID string) ([]*domain.DeviceSession, error) {
	return m.sessions.ListActiveByUser(ctx, userID)
}

// ListTrustedDevices returns the user's trusted devices.
func (m *Manager) ListTrustedDevices(ctx context.Context, userID string) ([]*devicedomain.TrustedDevice, error) {
	return m.devices.ListByUser(ctx, userID)
}

// RenameDevice sets the display name of a device the user owns.
func (m *Manager) RenameDevice(ctx context.Context, userID, deviceID, displayName string) error {
	dev, err := m.devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev == nil || dev.UserID != userID {
		return ErrNotFound
	}
	return m.devices.Rename(ctx, deviceID, displayName)
}

// RevokeSession revokes one session the user owns, retires its refresh
// credentials, and pushes the session id into the revocation cache.
func (m *Manager) RevokeSession(ctx context.Context, userID, sessionID string) error {
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.UserID != userID {
		return ErrNotFound
	}
	return m.teardown(ctx, sess)
}

// RevokeAllExcept revokes every active session of the user other than keep.
// Each revoked session gets its own revocation cache entry.
func (m *Manager) RevokeAllExcept(ctx context.Context, userID, keep string) (int, error) {
	active, err := m.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range active {
		if sess.ID == keep {
			continue
		}
		if err := m.teardown(ctx, sess); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RevokeAllForUser revokes every active session of the user, refresh
// credentials included. Used on account deactivation and password reset.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	active, err := m.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := m.sessions.RevokeAllByUser(ctx, userID); err != nil {
		return 0, err
	}
	if err := m.creds.RevokeAllByUser(ctx, userID, tokendomain.ReasonRevoked); err != nil {
		return 0, err
	}
	until := time.Now().UTC().Add(m.accessTTL)
	for _, sess := range active {
		if err := m.revoker.Revoke(ctx, sess.ID, until); err != nil {
			return 0, err
		}
		telemetry.EmitAsync(m.emitter, ctx, telemetry.NewEvent(
			telemetrydomain.EventSessionRevoked, userID, sess.ID, "", nil))
	}
	return len(active), nil
}

// RevokeDevice removes a trusted device the user owns and revokes every
// active session bound to it.
func (m *Manager) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	dev, err := m.devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if dev == nil || dev.UserID != userID {
		return ErrNotFound
	}
	active, err := m.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range active {
		if sess.DeviceID != deviceID {
			continue
		}
		if err := m.teardown(ctx, sess); err != nil {
			return err
		}
	}
	return m.devices.Delete(ctx, deviceID)
}

// Touch records activity on the session.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	return m.sessions.UpdateLastActivity(ctx, sessionID, time.Now().UTC())
}

// SweepExpired revokes sessions past their expiry and pushes each into the
// revocation cache. Called by the maintenance sweeper.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := m.sessions.RevokeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	until := now.Add(m.accessTTL)
	for _, id := range ids {
		if err := m.revoker.Revoke(ctx, id, until); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (m *Manager) teardown(ctx context.Context, sess *domain.DeviceSession) error {
	if err := m.sessions.Revoke(ctx, sess.ID); err != nil {
		return err
	}
	if err := m.creds.RevokeAllBySession(ctx, sess.ID, tokendomain.ReasonRevoked); err != nil {
		return err
	}
	if err := m.revoker.Revoke(ctx, sess.ID, time.Now().UTC().Add(m.accessTTL)); err != nil {
		return err
	}
	telemetry.EmitAsync(m.emitter, ctx, telemetry.NewEvent(
		telemetrydomain.EventSessionRevoked, sess.UserID, sess.ID, "", nil))
	return nil
}
