package repository

import (
	"context"
	"time"

	"device-trust-engine/internal/approval/domain"
)

// Repository defines persistence for device approval requests.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	// GetPendingBySession returns the pending request for a session, or nil.
	GetPendingBySession(ctx context.Context, sessionID string) (*domain.ApprovalRequest, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.ApprovalRequest, error)
	Create(ctx context.Context, a *domain.ApprovalRequest) error
	// IncrementAttempts atomically bumps the attempt counter and returns the
	// new value, so concurrent wrong guesses are all counted.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// Resolve moves a pending request to the terminal status (compare-and-set).
	// Returns true when this call won the transition; false when the request
	// was already terminal.
	Resolve(ctx context.Context, id, status string, at time.Time) (bool, error)
	// ExpirePending marks every pending request past its deadline as expired
	// and returns the requests it transitioned, with ID, SessionID, and UserID set.
	ExpirePending(ctx context.Context, before time.Time) ([]*domain.ApprovalRequest, error)
}
