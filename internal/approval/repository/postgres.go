package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"device-trust-engine/internal/approval/domain"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository returns an approval repository that uses the given pool for persistence.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const approvalColumns = `id, session_id, user_id, token_hash, code_hash, attempts, status, expires_at, created_at, resolved_at`

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var a domain.ApprovalRequest
	err := row.Scan(&a.ID, &a.SessionID, &a.UserID, &a.TokenHash, &a.CodeHash, &a.Attempts, &a.Status, &a.ExpiresAt, &a.CreatedAt, &a.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// GetByID returns the approval request for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM device_approvals WHERE id = $1`, id)
	return scanApproval(row)
}

// GetPendingBySession returns the pending request for the session, or nil.
func (r *PostgresRepository) GetPendingBySession(ctx context.Context, sessionID string) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM device_approvals
		 WHERE session_id = $1 AND status = 'pending'
		 ORDER BY created_at DESC LIMIT 1`,
		sessionID)
	return scanApproval(row)
}

// GetByTokenHash returns the request matching the link token digest, or nil.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.ApprovalRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM device_approvals WHERE token_hash = $1`, tokenHash)
	return scanApproval(row)
}

// Create persists the approval request. The request must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.ApprovalRequest) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO device_approvals (id, session_id, user_id, token_hash, code_hash, attempts, status, expires_at, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SessionID, a.UserID, a.TokenHash, a.CodeHash, a.Attempts, a.Status, a.ExpiresAt, a.CreatedAt, a.ResolvedAt,
	)
	return err
}

// IncrementAttempts bumps the attempt counter in a single statement and
// returns the new value, so concurrent wrong guesses are all counted.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx,
		`UPDATE device_approvals SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`,
		id,
	).Scan(&attempts)
	return attempts, err
}

// Resolve moves a pending request to the terminal status with a
// compare-and-set on status, so two concurrent resolutions cannot both win.
func (r *PostgresRepository) Resolve(ctx context.Context, id, status string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE device_approvals SET status = $2, resolved_at = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, status, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpirePending marks every pending request past its deadline as expired and
// returns the requests it transitioned.
func (r *PostgresRepository) ExpirePending(ctx context.Context, before time.Time) ([]*domain.ApprovalRequest, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE device_approvals SET status = $2, resolved_at = now()
		 WHERE status = 'pending' AND expires_at <= $1
		 RETURNING id, session_id, user_id`,
		before, domain.StatusExpired,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ApprovalRequest
	for rows.Next() {
		a := &domain.ApprovalRequest{Status: domain.StatusExpired}
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
