package domain

import "time"

// Revocation reasons recorded on refresh credentials. "rotated" marks normal
// single-use consumption; presenting a rotated credential again is a theft signal.
const (
	ReasonRotated    = "rotated"
	ReasonSuperseded = "superseded"
	ReasonRevoked    = "revoked"
)

// RefreshCredential is the persisted form of a long-lived opaque refresh
// secret. Only the salted hash of the secret half is stored; the raw value is
// returned to the client exactly once at issuance. The lookup half is a
// non-secret index key.
type RefreshCredential struct {
	ID            string
	SessionID     string
	UserID        string
	Lookup        string
	SecretHash    string
	Salt          string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time // nil when not revoked
	RevokedReason string
}

// Expired reports whether the credential is past its natural expiry.
func (c *RefreshCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Revoked reports whether the credential has been revoked. A revoked
// credential never becomes valid again.
func (c *RefreshCredential) Revoked() bool {
	return c.RevokedAt != nil
}
