package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	approvaldomain "device-trust-engine/internal/approval/domain"
	"device-trust-engine/internal/audit"
	"device-trust-engine/internal/security"
	sessiondomain "device-trust-engine/internal/session/domain"
	tokenservice "device-trust-engine/internal/token/service"
	userdomain "device-trust-engine/internal/user/domain"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*userdomain.User)}
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) add(u *userdomain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
}

func (r *memUserRepo) lock(id string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.LockedUntil = &until
	}
}

type fakeGuard struct {
	mu        sync.Mutex
	failures  map[string]int
	resets    map[string]int
	threshold int
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{failures: make(map[string]int), resets: make(map[string]int), threshold: 5}
}

func (g *fakeGuard) RecordFailure(_ context.Context, userID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[userID]++
	return g.failures[userID] >= g.threshold, nil
}

func (g *fakeGuard) Reset(_ context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets[userID]++
	g.failures[userID] = 0
	return nil
}

type fakeSessionManager struct {
	mu         sync.Mutex
	sessions   map[string]*sessiondomain.DeviceSession
	recognized bool
	revoked    []string
	revokedAll []string
}

func newFakeSessionManager() *fakeSessionManager {
	return &fakeSessionManager{sessions: make(map[string]*sessiondomain.DeviceSession)}
}

func (m *fakeSessionManager) StartSession(_ context.Context, userID string, meta sessiondomain.Metadata) (*sessiondomain.DeviceSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := &sessiondomain.DeviceSession{
		ID:          uuid.New().String(),
		UserID:      userID,
		Fingerprint: meta.Fingerprint,
		Trusted:     m.recognized,
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
		CreatedAt:   time.Now().UTC(),
	}
	m.sessions[sess.ID] = sess
	return sess, m.recognized, nil
}

func (m *fakeSessionManager) GetSession(_ context.Context, sessionID string) (*sessiondomain.DeviceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *fakeSessionManager) RevokeSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return errors.New("not found")
	}
	now := time.Now().UTC()
	s.RevokedAt = &now
	m.revoked = append(m.revoked, sessionID)
	return nil
}

func (m *fakeSessionManager) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedAll = append(m.revokedAll, userID)
	n := 0
	now := time.Now().UTC()
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *fakeSessionManager) trust(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Trusted = true
	}
}

type fakeApprovals struct {
	mu      sync.Mutex
	created []*approvaldomain.ApprovalRequest
}

func (a *fakeApprovals) CreateChallenge(_ context.Context, sess *sessiondomain.DeviceSession) (*approvaldomain.ApprovalRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req := &approvaldomain.ApprovalRequest{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Status:    approvaldomain.StatusPending,
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}
	a.created = append(a.created, req)
	return req, nil
}

type fakeIssuer struct {
	mu     sync.Mutex
	issued []string
}

func (i *fakeIssuer) IssuePair(_ context.Context, userID, sessionID string) (*tokenservice.Pair, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.issued = append(i.issued, sessionID)
	return &tokenservice.Pair{
		AccessToken:       "access-" + sessionID,
		RefreshCredential: "lookup.secret-" + sessionID,
		AccessExpiresAt:   time.Now().UTC().Add(15 * time.Minute),
		SessionID:         sessionID,
		UserID:            userID,
	}, nil
}

type fakeFlags struct {
	mu      sync.Mutex
	cutoffs map[string]time.Time
}

func (f *fakeFlags) RequireAfter(_ context.Context, userID string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cutoffs == nil {
		f.cutoffs = make(map[string]time.Time)
	}
	f.cutoffs[userID] = t
	return nil
}

type authFixture struct {
	svc       *AuthService
	users     *memUserRepo
	guard     *fakeGuard
	sessions  *fakeSessionManager
	approvals *fakeApprovals
	issuer    *fakeIssuer
	flags     *fakeFlags
}

const testPassword = "correct horse battery staple"

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		users:     newMemUserRepo(),
		guard:     newFakeGuard(),
		sessions:  newFakeSessionManager(),
		approvals: &fakeApprovals{},
		issuer:    &fakeIssuer{},
		flags:     &fakeFlags{},
	}
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(testPassword))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	f.users.add(&userdomain.User{
		ID:           "user-1",
		Email:        "ada@example.com",
		PasswordHash: hash,
		Status:       userdomain.UserStatusActive,
	})
	f.svc = NewAuthService(f.users, hasher, f.guard, f.sessions, f.approvals,
		f.issuer, f.flags, audit.NewLogger(nil), nil)
	return f
}

var loginMeta = sessiondomain.Metadata{Fingerprint: "fp-1", IPAddress: "10.0.0.1"}

func TestLoginRecognizedDeviceIssuesTokens(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.recognized = true

	res, err := f.svc.Login(context.Background(), "ada@example.com", testPassword, loginMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.RequiresApproval() {
		t.Fatal("recognized device parked on approval")
	}
	if res.Pair == nil || res.Pair.SessionID != res.Session.ID {
		t.Fatalf("pair = %+v, want tokens for session %s", res.Pair, res.Session.ID)
	}
	if f.guard.resets["user-1"] != 1 {
		t.Fatal("successful login did not reset the failure counter")
	}
}

func TestLoginUnrecognizedDeviceWithholdsTokens(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.recognized = false

	res, err := f.svc.Login(context.Background(), "ada@example.com", testPassword, loginMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.RequiresApproval() {
		t.Fatal("unrecognized device did not open an approval")
	}
	if res.Pair != nil {
		t.Fatal("tokens issued before device approval")
	}
	if len(f.issuer.issued) != 0 {
		t.Fatal("issuer called for unapproved session")
	}
	if len(f.approvals.created) != 1 || f.approvals.created[0].SessionID != res.Session.ID {
		t.Fatalf("approvals = %+v, want one for session %s", f.approvals.created, res.Session.ID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "ada@example.com", "wrong", loginMeta)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
	if f.guard.failures["user-1"] != 1 {
		t.Fatal("failed login not counted")
	}
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "nobody@example.com", testPassword, loginMeta)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginCrossingThresholdReportsLocked(t *testing.T) {
	f := newAuthFixture(t)
	f.guard.threshold = 2

	if _, err := f.svc.Login(context.Background(), "ada@example.com", "wrong", loginMeta); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("first failure error = %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "ada@example.com", "wrong", loginMeta); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("threshold failure error = %v, want ErrAccountLocked", err)
	}
}

func TestLoginLockedAccountRejectsCorrectPassword(t *testing.T) {
	f := newAuthFixture(t)
	f.users.lock("user-1", time.Now().UTC().Add(30*time.Minute))

	_, err := f.svc.Login(context.Background(), "ada@example.com", testPassword, loginMeta)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("error = %v, want ErrAccountLocked", err)
	}
	if f.guard.resets["user-1"] != 0 {
		t.Fatal("locked login reset the failure counter")
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newAuthFixture(t)
	f.users.add(&userdomain.User{
		ID: "user-2", Email: "off@example.com",
		PasswordHash: "x", Status: userdomain.UserStatusDisabled,
	})

	_, err := f.svc.Login(context.Background(), "off@example.com", testPassword, loginMeta)
	if !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("error = %v, want ErrAccountDisabled", err)
	}
}

func TestFinishLoginAfterTrust(t *testing.T) {
	f := newAuthFixture(t)
	res, err := f.svc.Login(context.Background(), "ada@example.com", testPassword, loginMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Tokens are withheld until the session is trusted.
	if _, err := f.svc.FinishLogin(context.Background(), res.Session.ID); !errors.Is(err, ErrSessionNotReady) {
		t.Fatalf("premature FinishLogin error = %v, want ErrSessionNotReady", err)
	}

	f.sessions.trust(res.Session.ID)
	pair, err := f.svc.FinishLogin(context.Background(), res.Session.ID)
	if err != nil {
		t.Fatalf("FinishLogin: %v", err)
	}
	if pair.SessionID != res.Session.ID {
		t.Fatalf("pair session = %s, want %s", pair.SessionID, res.Session.ID)
	}
}

func TestFinishLoginUnknownSession(t *testing.T) {
	f := newAuthFixture(t)
	if _, err := f.svc.FinishLogin(context.Background(), "missing"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.recognized = true
	res, err := f.svc.Login(context.Background(), "ada@example.com", testPassword, loginMeta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.svc.Logout(context.Background(), "user-1", res.Session.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(f.sessions.revoked) != 1 || f.sessions.revoked[0] != res.Session.ID {
		t.Fatalf("revoked = %v, want [%s]", f.sessions.revoked, res.Session.ID)
	}
}

func TestForceReauthRaisesCutoff(t *testing.T) {
	f := newAuthFixture(t)

	before := time.Now().UTC()
	if err := f.svc.ForceReauth(context.Background(), "user-1"); err != nil {
		t.Fatalf("ForceReauth: %v", err)
	}
	cutoff, ok := f.flags.cutoffs["user-1"]
	if !ok || cutoff.Before(before) {
		t.Fatalf("cutoff = %v ok=%v, want >= %v", cutoff, ok, before)
	}
	// Sessions are untouched: only credentials predating the cutoff die.
	if len(f.sessions.revokedAll) != 0 {
		t.Fatal("ForceReauth revoked sessions")
	}
}

func TestDeactivateRevokesEverything(t *testing.T) {
	f := newAuthFixture(t)
	f.sessions.recognized = true
	if _, err := f.svc.Login(context.Background(), "ada@example.com", testPassword, loginMeta); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.svc.Deactivate(context.Background(), "user-1"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if len(f.sessions.revokedAll) != 1 {
		t.Fatal("Deactivate did not revoke the user's sessions")
	}
	if _, ok := f.flags.cutoffs["user-1"]; !ok {
		t.Fatal("Deactivate did not raise the reauth cutoff")
	}
}
