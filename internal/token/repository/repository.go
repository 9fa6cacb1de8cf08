package repository

import (
	"context"

	"device-trust-engine/internal/token/domain"
)

// Repository defines persistence for refresh credentials.
type Repository interface {
	GetByLookup(ctx context.Context, lookup string) (*domain.RefreshCredential, error)
	Create(ctx context.Context, c *domain.RefreshCredential) error
	// Replace retires the rotated credential and persists its replacement in
	// one transaction. The retirement is a compare-and-set on revoked_at:
	// Replace returns false, without inserting anything, when another caller
	// already revoked the credential.
	Replace(ctx context.Context, rotatedID string, next *domain.RefreshCredential) (bool, error)
	RevokeAllBySession(ctx context.Context, sessionID, reason string) error
	RevokeAllByUser(ctx context.Context, userID, reason string) error
}
