package domain

import "time"

// TrustedDevice is the durable trust anchor for a physical device, keyed by
// (user, fingerprint). It survives any number of login sessions.
type TrustedDevice struct {
	ID           string
	UserID       string
	Fingerprint  string
	DisplayName  string
	LastIP       string
	LastLocation string
	TrustedAt    time.Time
	LastUsedAt   *time.Time
}
