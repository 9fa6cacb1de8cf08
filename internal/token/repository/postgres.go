package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"device-trust-engine/internal/token/domain"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository returns a refresh-credential repository that uses the given pool for persistence.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const credentialColumns = `id, session_id, user_id, lookup, secret_hash, salt, issued_at, expires_at, revoked_at, COALESCE(revoked_reason, '')`

// GetByLookup returns the credential for the non-secret lookup key, or nil if
// not found. Revoked and expired credentials are returned so callers can
// distinguish "already used" from "unknown".
func (r *PostgresRepository) GetByLookup(ctx context.Context, lookup string) (*domain.RefreshCredential, error) {
	row := r.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM refresh_credentials WHERE lookup = $1`, lookup)
	var c domain.RefreshCredential
	err := row.Scan(&c.ID, &c.SessionID, &c.UserID, &c.Lookup, &c.SecretHash, &c.Salt, &c.IssuedAt, &c.ExpiresAt, &c.RevokedAt, &c.RevokedReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Create persists the credential. The credential must have ID and Lookup set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.RefreshCredential) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO refresh_credentials (id, session_id, user_id, lookup, secret_hash, salt, issued_at, expires_at, revoked_at, revoked_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))`,
		c.ID, c.SessionID, c.UserID, c.Lookup, c.SecretHash, c.Salt, c.IssuedAt, c.ExpiresAt, c.RevokedAt, c.RevokedReason,
	)
	return err
}

// Replace retires the rotated credential and inserts its replacement inside a
// single transaction, so a crash cannot leave the old credential revoked with
// no successor. The compare-and-set on revoked_at keeps concurrent rotations
// of the same credential down to one winner.
func (r *PostgresRepository) Replace(ctx context.Context, rotatedID string, next *domain.RefreshCredential) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE refresh_credentials SET revoked_at = now(), revoked_reason = $2
		 WHERE id = $1 AND revoked_at IS NULL`,
		rotatedID, domain.ReasonRotated,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO refresh_credentials (id, session_id, user_id, lookup, secret_hash, salt, issued_at, expires_at, revoked_at, revoked_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))`,
		next.ID, next.SessionID, next.UserID, next.Lookup, next.SecretHash, next.Salt, next.IssuedAt, next.ExpiresAt, next.RevokedAt, next.RevokedReason,
	)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAllBySession revokes every non-revoked credential of the session.
func (r *PostgresRepository) RevokeAllBySession(ctx context.Context, sessionID, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE refresh_credentials SET revoked_at = now(), revoked_reason = $2
		 WHERE session_id = $1 AND revoked_at IS NULL`,
		sessionID, reason,
	)
	return err
}

// RevokeAllByUser revokes every non-revoked credential of the user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE refresh_credentials SET revoked_at = now(), revoked_reason = $2
		 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, reason,
	)
	return err
}
