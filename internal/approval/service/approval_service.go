package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"device-trust-engine/internal/approval/domain"
	"device-trust-engine/internal/cache"
	"device-trust-engine/internal/captcha"
	"device-trust-engine/internal/notify"
	"device-trust-engine/internal/security"
	sessiondomain "device-trust-engine/internal/session/domain"
	"device-trust-engine/internal/telemetry"
	telemetrydomain "device-trust-engine/internal/telemetry/domain"
)

var (
	ErrApprovalNotFound = errors.New("approval request not found")
	// ErrChallengeClosed marks evidence presented against a request that has
	// already reached a terminal status, including a second use of the link.
	ErrChallengeClosed   = errors.New("approval request already resolved")
	ErrChallengeExpired  = errors.New("approval request expired")
	ErrCodeMismatch      = errors.New("confirmation code mismatch")
	ErrAttemptsExceeded  = errors.New("confirmation attempts exceeded")
	ErrCaptchaRequired   = errors.New("captcha verification required")
	ErrSessionNotTrusted = errors.New("approving session is not trusted")
)

const captchaKeyPrefix = "capfail:"

// codeDigits is the length of the human-entry confirmation code.
const codeDigits = 6

// SessionRepo is the session surface needed by the approval service.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.DeviceSession, error)
	Revoke(ctx context.Context, id string) error
}

// Truster binds an approved session to a trusted device record.
type Truster interface {
	TrustSession(ctx context.Context, sessionID string) error
}

// Revoker is the revocation cache client surface needed by the service.
type Revoker interface {
	Revoke(ctx context.Context, id string, until time.Time) error
}

// ApprovalRepo is the approval persistence surface needed by the service.
type ApprovalRepo interface {
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	GetPendingBySession(ctx context.Context, sessionID string) (*domain.ApprovalRequest, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.ApprovalRequest, error)
	Create(ctx context.Context, a *domain.ApprovalRequest) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	Resolve(ctx context.Context, id, status string, at time.Time) (bool, error)
	ExpirePending(ctx context.Context, before time.Time) ([]*domain.ApprovalRequest, error)
}

// Service drives the device approval state machine. A pending request can be
// resolved through three evidence channels: the human-entry confirmation code,
// the single-use link token, or an approval issued from another trusted
// session of the same user. Every terminal transition is a compare-and-set,
// so concurrent evidence cannot resolve a request twice.
type Service struct {
	approvals        ApprovalRepo
	sessions         SessionRepo
	trust            Truster
	revoker          Revoker
	counters         cache.Store
	captcha          captcha.Verifier
	notifier         notify.Notifier
	emitter          telemetry.EventEmitter
	ttl              time.Duration
	accessTTL        time.Duration
	captchaThreshold int
}

func NewService(
	approvals ApprovalRepo,
	sessions SessionRepo,
	trust Truster,
	revoker Revoker,
	counters cache.Store,
	verifier captcha.Verifier,
	notifier notify.Notifier,
	emitter telemetry.EventEmitter,
	ttl, accessTTL time.Duration,
	captchaThreshold int,
) *Service {
	return &Service{
		approvals:        approvals,
		sessions:         sessions,
		trust:            trust,
		revoker:          revoker,
		counters:         counters,
		captcha:          verifier,
		notifier:         notifier,
		emitter:          emitter,
		ttl:              ttl,
		accessTTL:        accessTTL,
		captchaThreshold: captchaThreshold,
	}
}

// CreateChallenge opens a pending approval request for a session on an
// unrecognized device and delivers the link token and confirmation code out
// of band. Only digests of both secrets are stored.
func (s *Service) CreateChallenge(ctx context.Context, sess *sessiondomain.DeviceSession) (*domain.ApprovalRequest, error) {
	linkToken, err := security.GenerateToken()
	if err != nil {
		return nil, err
	}
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	req := &domain.ApprovalRequest{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		UserID:    sess.UserID,
		TokenHash: security.HashToken(linkToken),
		CodeHash:  security.HashToken(code),
		Status:    domain.StatusPending,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.approvals.Create(ctx, req); err != nil {
		return nil, err
	}
	if err := s.notifier.SendApprovalLink(ctx, sess.UserID, linkToken, code, sess.Meta()); err != nil {
		return nil, fmt.Errorf("deliver approval challenge: %w", err)
	}
	return req, nil
}

// PendingForSession returns the open request for the session, or nil.
func (s *Service) PendingForSession(ctx context.Context, sessionID string) (*domain.ApprovalRequest, error) {
	return s.approvals.GetPendingBySession(ctx, sessionID)
}

// ConfirmCode resolves a pending request with the human-entry code. Wrong
// codes are counted; the request tolerates at most domain.MaxCodeAttempts
// before it is denied and the session revoked. Once the device fingerprint
// has accumulated enough failures, further attempts must carry a solved
// captcha.
func (s *Service) ConfirmCode(ctx context.Context, approvalID, code, captchaToken, clientIP string) error {
	req, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrApprovalNotFound
	}
	if err := s.checkOpen(ctx, req); err != nil {
		return err
	}

	sess, err := s.sessions.GetByID(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrApprovalNotFound
	}

	if err := s.checkCaptcha(ctx, sess.Fingerprint, captchaToken, clientIP); err != nil {
		return err
	}

	if !security.TokenHashEqual(code, req.CodeHash) {
		attempts, err := s.approvals.IncrementAttempts(ctx, req.ID)
		if err != nil {
			return err
		}
		if _, err := s.counters.Increment(ctx, captchaKeyPrefix+sess.Fingerprint, s.ttl); err != nil {
			return err
		}
		if attempts >= domain.MaxCodeAttempts {
			s.closeDenied(ctx, req, telemetrydomain.EventApprovalExceeded)
			return ErrAttemptsExceeded
		}
		return ErrCodeMismatch
	}

	return s.approve(ctx, req, sess.Fingerprint)
}

// ConfirmLink resolves a pending request with the single-use link token. A
// second presentation of the same token finds the request already terminal
// and fails.
func (s *Service) ConfirmLink(ctx context.Context, linkToken string) (*domain.ApprovalRequest, error) {
	req, err := s.approvals.GetByTokenHash(ctx, security.HashToken(linkToken))
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrApprovalNotFound
	}
	if err := s.checkOpen(ctx, req); err != nil {
		return nil, err
	}
	if err := s.approve(ctx, req, ""); err != nil {
		return nil, err
	}
	return req, nil
}

// ApproveFromSession resolves a pending request on the strength of another
// active, trusted session of the same user.
func (s *Service) ApproveFromSession(ctx context.Context, actorSessionID, approvalID string) error {
	req, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrApprovalNotFound
	}
	if err := s.checkOpen(ctx, req); err != nil {
		return err
	}

	actor, err := s.sessions.GetByID(ctx, actorSessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if actor == nil || actor.UserID != req.UserID || !actor.Active(now) || !actor.Trusted {
		return ErrSessionNotTrusted
	}
	return s.approve(ctx, req, "")
}

// Deny resolves a pending request as denied, revokes the session it guards,
// and alerts the user. This is the "this wasn't me" path.
func (s *Service) Deny(ctx context.Context, approvalID string) error {
	req, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return err
	}
	if req == nil {
		return ErrApprovalNotFound
	}
	if err := s.checkOpen(ctx, req); err != nil {
		return err
	}
	s.closeDenied(ctx, req, telemetrydomain.EventDeviceDenied)
	return nil
}

// DenyByLink is Deny keyed by the link token, for the out-of-band page.
func (s *Service) DenyByLink(ctx context.Context, linkToken string) error {
	req, err := s.approvals.GetByTokenHash(ctx, security.HashToken(linkToken))
	if err != nil {
		return err
	}
	if req == nil {
		return ErrApprovalNotFound
	}
	return s.Deny(ctx, req.ID)
}

// ResolvePendingBySession closes the open request of a session that has
// already been trusted through another path. The session stays up; there is
// nothing left to guard.
func (s *Service) ResolvePendingBySession(ctx context.Context, sessionID string) error {
	req, err := s.approvals.GetPendingBySession(ctx, sessionID)
	if err != nil || req == nil {
		return err
	}
	_, err = s.approvals.Resolve(ctx, req.ID, domain.StatusApproved, time.Now().UTC())
	return err
}

// ExpireStale transitions every pending request past its deadline to expired
// and revokes the sessions they were guarding, unless a session was trusted
// in the meantime. Called by the maintenance sweeper.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.approvals.ExpirePending(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, req := range expired {
		s.revokeUnlessTrusted(ctx, req)
	}
	return len(expired), nil
}

// checkOpen rejects terminal requests and lazily expires overdue ones. A
// request denied for attempt exhaustion keeps reporting exhaustion, not a
// generic closure.
func (s *Service) checkOpen(ctx context.Context, req *domain.ApprovalRequest) error {
	if req.Terminal() {
		if req.Status == domain.StatusDenied && req.Attempts >= domain.MaxCodeAttempts {
			return ErrAttemptsExceeded
		}
		return ErrChallengeClosed
	}
	now := time.Now().UTC()
	if req.Expired(now) {
		if won, err := s.approvals.Resolve(ctx, req.ID, domain.StatusExpired, now); err == nil && won {
			s.revokeUnlessTrusted(ctx, req)
		}
		return ErrChallengeExpired
	}
	return nil
}

// checkCaptcha requires a solved captcha once the device fingerprint has
// accumulated captchaThreshold failed confirmations.
func (s *Service) checkCaptcha(ctx context.Context, fingerprint, captchaToken, clientIP string) error {
	value, ok, err := s.counters.Get(ctx, captchaKeyPrefix+fingerprint)
	if err != nil {
		return fmt.Errorf("captcha counter: %w", err)
	}
	if !ok {
		return nil
	}
	failures, err := strconv.ParseInt(value, 10, 64)
	if err != nil || failures < int64(s.captchaThreshold) {
		return nil
	}
	if err := s.captcha.Verify(ctx, captchaToken, clientIP); err != nil {
		return ErrCaptchaRequired
	}
	return nil
}

// approve binds the session to a trusted device, then performs the terminal
// transition to approved. Binding comes first: a failed bind leaves the
// request pending and retryable instead of terminally approved with an
// untrusted session.
func (s *Service) approve(ctx context.Context, req *domain.ApprovalRequest, fingerprint string) error {
	if err := s.trust.TrustSession(ctx, req.SessionID); err != nil {
		return fmt.Errorf("bind trusted device: %w", err)
	}
	if fingerprint != "" {
		_ = s.counters.Delete(ctx, captchaKeyPrefix+fingerprint)
	}
	won, err := s.approvals.Resolve(ctx, req.ID, domain.StatusApproved, time.Now().UTC())
	if err != nil {
		return err
	}
	if won {
		return nil
	}
	// TrustSession closes open requests of a freshly trusted session, so the
	// compare-and-set can find the request already approved. Any other
	// terminal status means competing evidence got there first.
	cur, err := s.approvals.GetByID(ctx, req.ID)
	if err != nil {
		return err
	}
	if cur == nil || cur.Status != domain.StatusApproved {
		return ErrChallengeClosed
	}
	return nil
}

// closeDenied performs the terminal transition to denied and tears the
// guarded session down.
func (s *Service) closeDenied(ctx context.Context, req *domain.ApprovalRequest, event string) {
	won, err := s.approvals.Resolve(ctx, req.ID, domain.StatusDenied, time.Now().UTC())
	if err != nil || !won {
		return
	}
	s.revokeGuardedSession(ctx, req)
	var meta sessiondomain.Metadata
	var ip string
	if sess, err := s.sessions.GetByID(ctx, req.SessionID); err == nil && sess != nil {
		meta = sess.Meta()
		ip = sess.IPAddress
	}
	telemetry.EmitAsync(s.emitter, ctx, telemetry.NewEvent(event, req.UserID, req.SessionID, ip, nil))
	_ = s.notifier.SendSecurityAlert(ctx, req.UserID, event, meta)
}

func (s *Service) revokeGuardedSession(ctx context.Context, req *domain.ApprovalRequest) {
	_ = s.sessions.Revoke(ctx, req.SessionID)
	_ = s.revoker.Revoke(ctx, req.SessionID, time.Now().UTC().Add(s.accessTTL))
}

// revokeUnlessTrusted is the expiry-path teardown. A session trusted through
// another path keeps running; only still-untrusted sessions lose their
// request's protection.
func (s *Service) revokeUnlessTrusted(ctx context.Context, req *domain.ApprovalRequest) {
	if sess, err := s.sessions.GetByID(ctx, req.SessionID); err == nil && sess != nil && sess.Trusted {
		return
	}
	s.revokeGuardedSession(ctx, req)
}

// generateCode returns a zero-padded numeric confirmation code.
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
