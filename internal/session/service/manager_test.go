package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	devicedomain "device-trust-engine/internal/device/domain"
	"device-trust-engine/internal/session/domain"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.DeviceSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*domain.DeviceSession)}
}

func (r *memSessionRepo) GetByID(_ context.Context, id string) (*domain.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) ListActiveByUser(_ context.Context, userID string) ([]*domain.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []*domain.DeviceSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Create(_ context.Context, s *domain.DeviceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) MarkTrusted(_ context.Context, id, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Trusted = true
		s.DeviceID = deviceID
	}
	return nil
}

func (r *memSessionRepo) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.RevokedAt == nil {
		now := time.Now().UTC()
		s.RevokedAt = &now
	}
	return nil
}

func (r *memSessionRepo) RevokeAllByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			at := now
			s.RevokedAt = &at
		}
	}
	return nil
}

func (r *memSessionRepo) UpdateLastActivity(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActivityAt = &at
	}
	return nil
}

func (r *memSessionRepo) RevokeExpired(_ context.Context, before time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, s := range r.sessions {
		if s.RevokedAt == nil && !s.ExpiresAt.After(before) {
			at := before
			s.RevokedAt = &at
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

type memDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*devicedomain.TrustedDevice
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{devices: make(map[string]*devicedomain.TrustedDevice)}
}

func (r *memDeviceRepo) GetByID(_ context.Context, id string) (*devicedomain.TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *memDeviceRepo) GetByUserAndFingerprint(_ context.Context, userID, fingerprint string) (*devicedomain.TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.UserID == userID && d.Fingerprint == fingerprint {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memDeviceRepo) ListByUser(_ context.Context, userID string) ([]*devicedomain.TrustedDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*devicedomain.TrustedDevice
	for _, d := range r.devices {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memDeviceRepo) Create(_ context.Context, d *devicedomain.TrustedDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.devices[d.ID] = &cp
	return nil
}

func (r *memDeviceRepo) Rename(_ context.Context, id, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.DisplayName = displayName
	}
	return nil
}

func (r *memDeviceRepo) UpdateLastUsed(_ context.Context, id, ip, location string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.LastIP = ip
		d.LastLocation = location
		d.LastUsedAt = &at
	}
	return nil
}

func (r *memDeviceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
	return nil
}

type recordCredRevoker struct {
	mu         sync.Mutex
	bySession  []string
	byUser     []string
}

func (c *recordCredRevoker) RevokeAllBySession(_ context.Context, sessionID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySession = append(c.bySession, sessionID)
	return nil
}

func (c *recordCredRevoker) RevokeAllByUser(_ context.Context, userID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser = append(c.byUser, userID)
	return nil
}

type recordRevoker struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordRevoker) Revoke(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type managerFixture struct {
	mgr      *Manager
	sessions *memSessionRepo
	devices  *memDeviceRepo
	creds    *recordCredRevoker
	revoker  *recordRevoker
}

func newManagerFixture() *managerFixture {
	f := &managerFixture{
		sessions: newMemSessionRepo(),
		devices:  newMemDeviceRepo(),
		creds:    &recordCredRevoker{},
		revoker:  &recordRevoker{},
	}
	f.mgr = NewManager(f.sessions, f.devices, f.creds, f.revoker,
		30*24*time.Hour, 15*time.Minute, nil)
	return f
}

var testMeta = domain.Metadata{
	Fingerprint: "fp-1",
	Browser:     "Firefox",
	OS:          "Linux",
	IPAddress:   "10.0.0.1",
	Location:    "Berlin, DE",
}

func TestStartSessionUnrecognizedDevice(t *testing.T) {
	f := newManagerFixture()

	sess, recognized, err := f.mgr.StartSession(context.Background(), "user-1", testMeta)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if recognized {
		t.Fatal("unknown fingerprint reported as recognized")
	}
	if sess.Trusted || sess.DeviceID != "" {
		t.Fatalf("session trusted=%v device=%q, want untrusted and unbound", sess.Trusted, sess.DeviceID)
	}
}

func TestStartSessionRecognizedDevice(t *testing.T) {
	f := newManagerFixture()
	f.devices.Create(context.Background(), &devicedomain.TrustedDevice{
		ID: "dev-1", UserID: "user-1", Fingerprint: "fp-1", TrustedAt: time.Now().UTC(),
	})

	sess, recognized, err := f.mgr.StartSession(context.Background(), "user-1", testMeta)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !recognized || !sess.Trusted || sess.DeviceID != "dev-1" {
		t.Fatalf("recognized=%v trusted=%v device=%q, want recognized trusted dev-1", recognized, sess.Trusted, sess.DeviceID)
	}

	dev, _ := f.devices.GetByID(context.Background(), "dev-1")
	if dev.LastUsedAt == nil || dev.LastIP != "10.0.0.1" {
		t.Fatalf("device usage not recorded: lastUsed=%v ip=%q", dev.LastUsedAt, dev.LastIP)
	}
}

func TestStartSessionSameFingerprintOtherUser(t *testing.T) {
	f := newManagerFixture()
	f.devices.Create(context.Background(), &devicedomain.TrustedDevice{
		ID: "dev-1", UserID: "user-2", Fingerprint: "fp-1", TrustedAt: time.Now().UTC(),
	})

	_, recognized, err := f.mgr.StartSession(context.Background(), "user-1", testMeta)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if recognized {
		t.Fatal("another user's device must not be recognized")
	}
}

func TestTrustSessionCreatesDevice(t *testing.T) {
	f := newManagerFixture()
	sess, _, err := f.mgr.StartSession(context.Background(), "user-1", testMeta)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := f.mgr.TrustSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("TrustSession: %v", err)
	}

	stored, _ := f.sessions.GetByID(context.Background(), sess.ID)
	if !stored.Trusted || stored.DeviceID == "" {
		t.Fatalf("session trusted=%v device=%q after TrustSession", stored.Trusted, stored.DeviceID)
	}
	dev, _ := f.devices.GetByID(context.Background(), stored.DeviceID)
	if dev == nil || dev.Fingerprint != "fp-1" || dev.UserID != "user-1" {
		t.Fatalf("trusted device not created correctly: %+v", dev)
	}
	if dev.DisplayName != "Firefox on Linux" {
		t.Fatalf("display name = %q, want Firefox on Linux", dev.DisplayName)
	}
}

type recordResolver struct {
	mu       sync.Mutex
	resolved []string
}

func (r *recordResolver) ResolvePendingBySession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, sessionID)
	return nil
}

func TestTrustSessionResolvesPendingApproval(t *testing.T) {
	f := newManagerFixture()
	resolver := &recordResolver{}
	f.mgr.SetApprovalResolver(resolver)

	sess, _, err := f.mgr.StartSession(context.Background(), "user-1", testMeta)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := f.mgr.TrustSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("TrustSession: %v", err)
	}

	if len(resolver.resolved) != 1 || resolver.resolved[0] != sess.ID {
		t.Fatalf("resolved sessions = %v, want [%s]", resolver.resolved, sess.ID)
	}
}

func TestTrustSessionReusesExistingDevice(t *testing.T) {
	f := newManagerFixture()
	f.devices.Create(context.Background(), &devicedomain.TrustedDevice{
		ID: "dev-1", UserID: "user-1", Fingerprint: "fp-1", TrustedAt: time.Now().UTC(),
	})
	sess := &domain.DeviceSession{
		ID: "sess-1", UserID: "user-1", Fingerprint: "fp-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	f.sessions.Create(context.Background(), sess)

	if err := f.mgr.TrustSession(context.Background(), "sess-1"); err != nil {
		t.Fatalf("TrustSession: %v", err)
	}
	stored, _ := f.sessions.GetByID(context.Background(), "sess-1")
	if stored.DeviceID != "dev-1" {
		t.Fatalf("session bound to %q, want dev-1", stored.DeviceID)
	}
	devs, _ := f.devices.ListByUser(context.Background(), "user-1")
	if len(devs) != 1 {
		t.Fatalf("devices = %d, want 1 (no duplicate)", len(devs))
	}
}

func TestRevokeSessionTearsDownEverything(t *testing.T) {
	f := newManagerFixture()
	sess, _, _ := f.mgr.StartSession(context.Background(), "user-1", testMeta)

	if err := f.mgr.RevokeSession(context.Background(), "user-1", sess.ID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	stored, _ := f.sessions.GetByID(context.Background(), sess.ID)
	if stored.RevokedAt == nil {
		t.Fatal("session not revoked")
	}
	if len(f.creds.bySession) != 1 || f.creds.bySession[0] != sess.ID {
		t.Fatalf("credential revocations = %v, want [%s]", f.creds.bySession, sess.ID)
	}
	if len(f.revoker.ids) != 1 || f.revoker.ids[0] != sess.ID {
		t.Fatalf("cache pushes = %v, want [%s]", f.revoker.ids, sess.ID)
	}
}

func TestRevokeSessionOwnershipMismatch(t *testing.T) {
	f := newManagerFixture()
	sess, _, _ := f.mgr.StartSession(context.Background(), "user-1", testMeta)

	err := f.mgr.RevokeSession(context.Background(), "user-2", sess.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	stored, _ := f.sessions.GetByID(context.Background(), sess.ID)
	if stored.RevokedAt != nil {
		t.Fatal("foreign revocation attempt revoked the session")
	}
}

func TestRevokeAllExceptKeepsCurrent(t *testing.T) {
	f := newManagerFixture()
	var keep string
	for i := 0; i < 4; i++ {
		sess, _, err := f.mgr.StartSession(context.Background(), "user-1", testMeta)
		if err != nil {
			t.Fatalf("StartSession: %v", err)
		}
		keep = sess.ID
	}

	n, err := f.mgr.RevokeAllExcept(context.Background(), "user-1", keep)
	if err != nil {
		t.Fatalf("RevokeAllExcept: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked = %d, want 3", n)
	}
	if len(f.revoker.ids) != 3 {
		t.Fatalf("cache pushes = %d, want exactly 3", len(f.revoker.ids))
	}
	for _, id := range f.revoker.ids {
		if id == keep {
			t.Fatal("kept session pushed to revocation cache")
		}
	}
	stored, _ := f.sessions.GetByID(context.Background(), keep)
	if stored.RevokedAt != nil {
		t.Fatal("kept session was revoked")
	}
}

func TestRevokeAllForUser(t *testing.T) {
	f := newManagerFixture()
	for i := 0; i < 3; i++ {
		if _, _, err := f.mgr.StartSession(context.Background(), "user-1", testMeta); err != nil {
			t.Fatalf("StartSession: %v", err)
		}
	}

	n, err := f.mgr.RevokeAllForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked = %d, want 3", n)
	}
	if len(f.creds.byUser) != 1 || f.creds.byUser[0] != "user-1" {
		t.Fatalf("credential revocations = %v, want [user-1]", f.creds.byUser)
	}
	if len(f.revoker.ids) != 3 {
		t.Fatalf("cache pushes = %d, want 3", len(f.revoker.ids))
	}
	remaining, _ := f.mgr.ListSessions(context.Background(), "user-1")
	if len(remaining) != 0 {
		t.Fatalf("active sessions = %d, want 0", len(remaining))
	}
}

func TestRevokeDeviceRevokesBoundSessions(t *testing.T) {
	f := newManagerFixture()
	f.devices.Create(context.Background(), &devicedomain.TrustedDevice{
		ID: "dev-1", UserID: "user-1", Fingerprint: "fp-1", TrustedAt: time.Now().UTC(),
	})
	bound, _, _ := f.mgr.StartSession(context.Background(), "user-1", testMeta)
	other, _, _ := f.mgr.StartSession(context.Background(), "user-1", domain.Metadata{Fingerprint: "fp-2"})

	if err := f.mgr.RevokeDevice(context.Background(), "user-1", "dev-1"); err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}

	if dev, _ := f.devices.GetByID(context.Background(), "dev-1"); dev != nil {
		t.Fatal("device still present after revocation")
	}
	s1, _ := f.sessions.GetByID(context.Background(), bound.ID)
	if s1.RevokedAt == nil {
		t.Fatal("session bound to revoked device still active")
	}
	s2, _ := f.sessions.GetByID(context.Background(), other.ID)
	if s2.RevokedAt != nil {
		t.Fatal("unrelated session revoked")
	}
}

func TestRenameDeviceOwnership(t *testing.T) {
	f := newManagerFixture()
	f.devices.Create(context.Background(), &devicedomain.TrustedDevice{
		ID: "dev-1", UserID: "user-1", Fingerprint: "fp-1", TrustedAt: time.Now().UTC(),
	})

	if err := f.mgr.RenameDevice(context.Background(), "user-1", "dev-1", "Work laptop"); err != nil {
		t.Fatalf("RenameDevice: %v", err)
	}
	dev, _ := f.devices.GetByID(context.Background(), "dev-1")
	if dev.DisplayName != "Work laptop" {
		t.Fatalf("display name = %q, want Work laptop", dev.DisplayName)
	}

	if err := f.mgr.RenameDevice(context.Background(), "user-2", "dev-1", "stolen"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign rename error = %v, want ErrNotFound", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newManagerFixture()
	now := time.Now().UTC()
	f.sessions.Create(context.Background(), &domain.DeviceSession{
		ID: "sess-old", UserID: "user-1", ExpiresAt: now.Add(-time.Hour),
	})
	f.sessions.Create(context.Background(), &domain.DeviceSession{
		ID: "sess-live", UserID: "user-1", ExpiresAt: now.Add(time.Hour),
	})

	n, err := f.mgr.SweepExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	if len(f.revoker.ids) != 1 || f.revoker.ids[0] != "sess-old" {
		t.Fatalf("cache pushes = %v, want [sess-old]", f.revoker.ids)
	}
}
