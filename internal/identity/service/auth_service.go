package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	approvaldomain "device-trust-engine/internal/approval/domain"
	"device-trust-engine/internal/audit"
	"device-trust-engine/internal/security"
	sessiondomain "device-trust-engine/internal/session/domain"
	"device-trust-engine/internal/telemetry"
	telemetrydomain "device-trust-engine/internal/telemetry/domain"
	tokenservice "device-trust-engine/internal/token/service"
	userdomain "device-trust-engine/internal/user/domain"
)

// ErrInvalidCredentials covers unknown emails and wrong passwords alike, so
// the response does not reveal which accounts exist.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrSessionNotReady    = errors.New("session not approved")
)

// UserRepo is the user persistence surface needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// LockoutGuard is the brute-force guard surface needed by the auth service.
type LockoutGuard interface {
	RecordFailure(ctx context.Context, userID, ip string) (locked bool, err error)
	Reset(ctx context.Context, userID string) error
}

// SessionManager is the session lifecycle surface needed by the auth service.
type SessionManager interface {
	StartSession(ctx context.Context, userID string, meta sessiondomain.Metadata) (*sessiondomain.DeviceSession, bool, error)
	GetSession(ctx context.Context, sessionID string) (*sessiondomain.DeviceSession, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// ApprovalOpener opens device approval challenges for unrecognized devices.
type ApprovalOpener interface {
	CreateChallenge(ctx context.Context, sess *sessiondomain.DeviceSession) (*approvaldomain.ApprovalRequest, error)
}

// TokenIssuer mints credential pairs for approved sessions.
type TokenIssuer interface {
	IssuePair(ctx context.Context, userID, sessionID string) (*tokenservice.Pair, error)
}

// ReauthFlags raises forced-reauthentication cutoffs.
type ReauthFlags interface {
	RequireAfter(ctx context.Context, userID string, t time.Time) error
}

// LoginResult is the outcome of a successful password check. Either Pair is
// set (recognized device, tokens issued) or Approval is set (unrecognized
// device, tokens withheld until the approval resolves).
type LoginResult struct {
	Session  *sessiondomain.DeviceSession
	Pair     *tokenservice.Pair
	Approval *approvaldomain.ApprovalRequest
}

// RequiresApproval reports whether the login is parked on a device approval.
func (r *LoginResult) RequiresApproval() bool {
	return r.Approval != nil
}

// AuthService orchestrates login: password verification behind the lockout
// guard, session start with device recognition, and either immediate token
// issuance or a device approval challenge.
type AuthService struct {
	users     UserRepo
	hasher    *security.Hasher
	guard     LockoutGuard
	sessions  SessionManager
	approvals ApprovalOpener
	tokens    TokenIssuer
	flags     ReauthFlags
	auditor   audit.AuditLogger
	emitter   telemetry.EventEmitter
}

func NewAuthService(
	users UserRepo,
	hasher *security.Hasher,
	guard LockoutGuard,
	sessions SessionManager,
	approvals ApprovalOpener,
	tokens TokenIssuer,
	flags ReauthFlags,
	auditor audit.AuditLogger,
	emitter telemetry.EventEmitter,
) *AuthService {
	return &AuthService{
		users:     users,
		hasher:    hasher,
		guard:     guard,
		sessions:  sessions,
		approvals: approvals,
		tokens:    tokens,
		flags:     flags,
		auditor:   auditor,
		emitter:   emitter,
	}
}

// Login verifies the password and opens a session. On a recognized device the
// result carries a token pair; on an unrecognized one it carries a pending
// approval and no tokens. The lockout check runs before the password
// comparison, so a locked account rejects even the correct password.
func (s *AuthService) Login(ctx context.Context, email, password string, meta sessiondomain.Metadata) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if u.LockedAt(now) {
		return nil, ErrAccountLocked
	}
	if u.Status != userdomain.UserStatusActive {
		return nil, ErrAccountDisabled
	}

	if err := s.hasher.Compare(u.PasswordHash, []byte(password)); err != nil {
		locked, ferr := s.guard.RecordFailure(ctx, u.ID, meta.IPAddress)
		if ferr != nil {
			return nil, ferr
		}
		if locked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.guard.Reset(ctx, u.ID); err != nil {
		return nil, err
	}

	sess, recognized, err := s.sessions.StartSession(ctx, u.ID, meta)
	if err != nil {
		return nil, err
	}
	s.auditor.LogEvent(ctx, u.ID, "login", "session:"+sess.ID, meta.IPAddress,
		"fingerprint="+meta.Fingerprint+" recognized="+strconv.FormatBool(recognized))

	result := &LoginResult{Session: sess}
	if !recognized {
		req, err := s.approvals.CreateChallenge(ctx, sess)
		if err != nil {
			return nil, err
		}
		result.Approval = req
		return result, nil
	}

	pair, err := s.tokens.IssuePair(ctx, u.ID, sess.ID)
	if err != nil {
		return nil, err
	}
	result.Pair = pair
	return result, nil
}

// FinishLogin issues the token pair for a session whose approval has
// resolved. The session must be active and trusted.
func (s *AuthService) FinishLogin(ctx context.Context, sessionID string) (*tokenservice.Pair, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if sess == nil || !sess.Active(now) {
		return nil, ErrInvalidCredentials
	}
	if !sess.Trusted {
		return nil, ErrSessionNotReady
	}
	return s.tokens.IssuePair(ctx, sess.UserID, sessionID)
}

// Logout revokes the session and everything issued for it.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.RevokeSession(ctx, userID, sessionID); err != nil {
		return err
	}
	s.auditor.LogEvent(ctx, userID, "logout", "session:"+sessionID, "", "")
	return nil
}

// ForceReauth raises the user's reauthentication cutoff: every credential
// issued before now stops working at its next check. Existing sessions stay,
// so re-login on each device resumes without device re-approval.
func (s *AuthService) ForceReauth(ctx context.Context, userID string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if err := s.flags.RequireAfter(ctx, userID, now); err != nil {
		return err
	}
	telemetry.EmitAsync(s.emitter, ctx, telemetry.NewEvent(
		telemetrydomain.EventReauthRequired, userID, "", "", nil))
	s.auditor.LogEvent(ctx, userID, "force_reauth", "user:"+userID, "", "")
	return nil
}

// Deactivate revokes every session of the user in addition to the reauth
// cutoff. Used when an account is disabled or compromised.
func (s *AuthService) Deactivate(ctx context.Context, userID string) error {
	if err := s.ForceReauth(ctx, userID); err != nil {
		return err
	}
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.auditor.LogEvent(ctx, userID, "deactivate", "user:"+userID, "",
		"sessions_revoked="+strconv.Itoa(n))
	return nil
}

