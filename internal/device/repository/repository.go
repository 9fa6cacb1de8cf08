package repository

import (
	"context"
	"time"

	"device-trust-engine/internal/device/domain"
)

// Repository defines persistence for trusted devices.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.TrustedDevice, error)
	GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error)
	Create(ctx context.Context, d *domain.TrustedDevice) error
	Rename(ctx context.Context, id, displayName string) error
	UpdateLastUsed(ctx context.Context, id, ip, location string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
