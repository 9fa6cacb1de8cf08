package domain

import (
	"errors"
	"time"
)

// Approval statuses. Pending is the only non-terminal status: once a request
// is approved, denied, or expired it never transitions again.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExpired  = "expired"
)

// MaxCodeAttempts bounds how many wrong confirmation codes a pending request
// tolerates before it is denied outright.
const MaxCodeAttempts = 3

var ErrInvalidApproval = errors.New("invalid approval request")

// ApprovalRequest is a pending decision on whether a session from an
// unrecognized device may proceed. TokenHash and CodeHash are digests of the
// single-use link token and the short confirmation code; the plaintexts are
// delivered out of band and never stored.
type ApprovalRequest struct {
	ID         string
	SessionID  string
	UserID     string
	TokenHash  string
	CodeHash   string
	Attempts   int
	Status     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func (a *ApprovalRequest) Validate() error {
	if a.ID == "" || a.SessionID == "" || a.UserID == "" || a.TokenHash == "" || a.CodeHash == "" {
		return ErrInvalidApproval
	}
	return nil
}

// Terminal reports whether the request has reached a final status.
func (a *ApprovalRequest) Terminal() bool {
	return a.Status != StatusPending
}

func (a *ApprovalRequest) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
