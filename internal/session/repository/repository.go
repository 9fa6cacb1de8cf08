package repository

import (
	"context"
	"time"

	"device-trust-engine/internal/session/domain"
)

// Repository defines persistence for device sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.DeviceSession, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.DeviceSession, error)
	Create(ctx context.Context, s *domain.DeviceSession) error
	// MarkTrusted sets the trust flag and binds the session to a device.
	MarkTrusted(ctx context.Context, id, deviceID string) error
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	UpdateLastActivity(ctx context.Context, id string, at time.Time) error
	// RevokeExpired revokes sessions whose expiry has passed; returns affected ids.
	RevokeExpired(ctx context.Context, before time.Time) ([]string, error)
}
