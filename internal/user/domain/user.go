package domain

import (
	"errors"
	"time"
)

// User is the account record. Ownership of most fields sits with the account
// subsystem; this engine reads identity/credential fields and mutates only the
// lockout fields (FailedLoginCount, LockedUntil).
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	Status           UserStatus
	MFAEnabled       bool
	FailedLoginCount int
	LockedUntil      *time.Time // nil when not locked
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// LockedAt reports whether the user is durably locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
