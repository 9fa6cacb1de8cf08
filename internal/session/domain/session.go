package domain

import "time"

// DeviceSession represents one login instance. It references a user and, once
// the device is resolved or approved, a TrustedDevice. Removed (revoked) on
// logout, admin revocation, or account deactivation.
type DeviceSession struct {
	ID             string
	UserID         string
	DeviceID       string // empty until the session is bound to a TrustedDevice
	Fingerprint    string
	Browser        string
	OS             string
	IPAddress      string
	Location       string
	Trusted        bool
	LastActivityAt *time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time // nil when not revoked
	CreatedAt      time.Time
}

// Active reports whether the session is neither revoked nor past expiry.
func (s *DeviceSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// Metadata is the device/browser/network context captured at login and carried
// on approval notifications.
type Metadata struct {
	Fingerprint string
	Browser     string
	OS          string
	IPAddress   string
	Location    string
}

// Meta returns the session's captured device context.
func (s *DeviceSession) Meta() Metadata {
	return Metadata{
		Fingerprint: s.Fingerprint,
		Browser:     s.Browser,
		OS:          s.OS,
		IPAddress:   s.IPAddress,
		Location:    s.Location,
	}
}
