package repository

import (
	"context"
	"time"

	"device-trust-engine/internal/user/domain"
)

// Repository defines persistence for users. Mutations are limited to the
// lockout fields; everything else belongs to the account subsystem.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	SetLock(ctx context.Context, id string, failedCount int, lockedUntil *time.Time) error
	ClearLock(ctx context.Context, id string) error
}
