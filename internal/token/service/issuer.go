package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"device-trust-engine/internal/security"
	sessiondomain "device-trust-engine/internal/session/domain"
	"device-trust-engine/internal/telemetry"
	telemetrydomain "device-trust-engine/internal/telemetry/domain"
	tokendomain "device-trust-engine/internal/token/domain"
)

// Sentinel errors for the token lifecycle. Lifecycle failures are distinguished
// internally for security response and audit; the API layer may unify them.
var (
	ErrInvalidCredential = errors.New("invalid refresh credential")
	ErrCredentialExpired = errors.New("refresh credential expired")
	ErrCredentialRevoked = errors.New("refresh credential revoked")
	// ErrCredentialReused marks a rotation attempt against an already-rotated
	// credential: a replay/theft signal, not a plain validation failure.
	ErrCredentialReused = errors.New("refresh credential already used")
	ErrAccessRevoked    = errors.New("session revoked")
	ErrReauthRequired   = errors.New("reauthentication required")
)

// Pair is a freshly minted access/refresh credential pair. RefreshCredential
// is the raw opaque secret, recoverable from the response exactly once.
type Pair struct {
	AccessToken       string
	RefreshCredential string
	AccessExpiresAt   time.Time
	SessionID         string
	UserID            string
}

// CredentialRepo is the minimal refresh-credential repository needed by the issuer.
type CredentialRepo interface {
	GetByLookup(ctx context.Context, lookup string) (*tokendomain.RefreshCredential, error)
	Create(ctx context.Context, c *tokendomain.RefreshCredential) error
	Replace(ctx context.Context, rotatedID string, next *tokendomain.RefreshCredential) (bool, error)
	RevokeAllBySession(ctx context.Context, sessionID, reason string) error
}

// SessionRepo is the minimal session repository needed by the issuer.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.DeviceSession, error)
	Revoke(ctx context.Context, id string) error
	UpdateLastActivity(ctx context.Context, id string, at time.Time) error
}

// Revoker is the revocation cache client surface needed by the issuer.
type Revoker interface {
	Revoke(ctx context.Context, id string, until time.Time) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// ReauthFlags is the forced-reauthentication surface needed by the issuer.
type ReauthFlags interface {
	Invalidates(ctx context.Context, userID string, issuedAt time.Time) (bool, error)
}

// Issuer mints access/refresh pairs bound to a session, rotates refresh
// credentials on use, and validates access tokens against the revocation cache
// and forced-reauth cutoffs.
type Issuer struct {
	creds      CredentialRepo
	sessions   SessionRepo
	revoker    Revoker
	flags      ReauthFlags
	tokens     *security.TokenProvider
	refreshTTL time.Duration
	emitter    telemetry.EventEmitter
}

// NewIssuer returns an Issuer with the given dependencies. emitter may be nil.
func NewIssuer(
	creds CredentialRepo,
	sessions SessionRepo,
	revoker Revoker,
	flags ReauthFlags,
	tokens *security.TokenProvider,
	refreshTTL time.Duration,
	emitter telemetry.EventEmitter,
) *Issuer {
	return &Issuer{
		creds:      creds,
		sessions:   sessions,
		revoker:    revoker,
		flags:      flags,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		emitter:    emitter,
	}
}

// IssuePair mints an access token and a fresh opaque refresh credential bound
// to the session. Any previously valid credential of the session is superseded,
// keeping at most one currently-valid refresh credential per session.
func (s *Issuer) IssuePair(ctx context.Context, userID, sessionID string) (*Pair, error) {
	if err := s.creds.RevokeAllBySession(ctx, sessionID, tokendomain.ReasonSuperseded); err != nil {
		return nil, err
	}
	cred, raw, err := s.newCredential(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.creds.Create(ctx, cred); err != nil {
		return nil, err
	}
	return s.mintPair(sessionID, userID, raw)
}

// newCredential builds an unsaved refresh credential and returns it with the
// raw secret, the only moment the secret exists outside its hash.
func (s *Issuer) newCredential(userID, sessionID string) (*tokendomain.RefreshCredential, string, error) {
	raw, lookup, err := security.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	_, secret, err := security.SplitSecret(raw)
	if err != nil {
		return nil, "", err
	}
	salt, err := security.NewSalt()
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	cred := &tokendomain.RefreshCredential{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		UserID:     userID,
		Lookup:     lookup,
		SecretHash: security.HashSecret(salt, secret),
		Salt:       salt,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.refreshTTL),
	}
	return cred, raw, nil
}

func (s *Issuer) mintPair(sessionID, userID, rawRefresh string) (*Pair, error) {
	accessToken, _, accessExp, err := s.tokens.IssueAccess(sessionID, userID)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:       accessToken,
		RefreshCredential: rawRefresh,
		AccessExpiresAt:   accessExp,
		SessionID:         sessionID,
		UserID:            userID,
	}, nil
}

// Rotate validates the raw refresh credential, then retires it and persists
// its replacement in a single repository transaction. A credential can win
// rotation exactly once: concurrent attempts and replays of an
// already-rotated credential fail with ErrCredentialReused and revoke the
// owning session.
func (s *Issuer) Rotate(ctx context.Context, rawRefresh string) (*Pair, error) {
	lookup, secret, err := security.SplitSecret(rawRefresh)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	cred, err := s.creds.GetByLookup(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrInvalidCredential
	}
	if !security.SecretHashEqual(cred.Salt, secret, cred.SecretHash) {
		return nil, ErrInvalidCredential
	}
	now := time.Now().UTC()
	if cred.Revoked() {
		if cred.RevokedReason == tokendomain.ReasonRotated {
			s.handleReplay(ctx, cred)
			return nil, ErrCredentialReused
		}
		return nil, ErrCredentialRevoked
	}
	if cred.Expired(now) {
		return nil, ErrCredentialExpired
	}
	stale, err := s.flags.Invalidates(ctx, cred.UserID, cred.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("reauth check: %w", err)
	}
	if stale {
		return nil, ErrReauthRequired
	}
	sess, err := s.sessions.GetByID(ctx, cred.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Active(now) {
		return nil, ErrInvalidCredential
	}
	next, raw, err := s.newCredential(cred.UserID, cred.SessionID)
	if err != nil {
		return nil, err
	}
	won, err := s.creds.Replace(ctx, cred.ID, next)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the compare-and-set: another rotation of this credential just
		// succeeded. Same theft posture as a replay.
		s.handleReplay(ctx, cred)
		return nil, ErrCredentialReused
	}
	_ = s.sessions.UpdateLastActivity(ctx, cred.SessionID, now)
	return s.mintPair(cred.SessionID, cred.UserID, raw)
}

// handleReplay revokes the owning session and everything issued for it.
// A rotated credential presented again means the secret exists in two places;
// assume the worse holder.
func (s *Issuer) handleReplay(ctx context.Context, cred *tokendomain.RefreshCredential) {
	_ = s.creds.RevokeAllBySession(ctx, cred.SessionID, tokendomain.ReasonRevoked)
	_ = s.sessions.Revoke(ctx, cred.SessionID)
	_ = s.revoker.Revoke(ctx, cred.SessionID, time.Now().UTC().Add(s.tokens.AccessTTL()))
	telemetry.EmitAsync(s.emitter, ctx, telemetry.NewEvent(
		telemetrydomain.EventReplayDetected, cred.UserID, cred.SessionID, "", nil))
}

// ValidateAccess checks the access token locally (signature, expiry, issuer,
// audience), then consults the revocation cache and the forced-reauth cutoff.
// Dependency failures during those checks are returned as errors; callers must
// deny (fail closed), never fall back to the token's own validity window.
func (s *Issuer) ValidateAccess(ctx context.Context, token string) (*security.TokenClaims, error) {
	claims, err := s.tokens.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return nil, ErrAccessRevoked
	}
	stale, err := s.flags.Invalidates(ctx, claims.UserID, claims.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("reauth check: %w", err)
	}
	if stale {
		return nil, ErrReauthRequired
	}
	return claims, nil
}
