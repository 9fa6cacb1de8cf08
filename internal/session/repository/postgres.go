package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"device-trust-engine/internal/session/domain"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository returns a session repository that uses the given pool for persistence.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, COALESCE(device_id, ''), fingerprint, browser, os, ip_address, location, trusted, last_activity_at, expires_at, revoked_at, created_at`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.DeviceSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM device_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ListActiveByUser returns all non-revoked, unexpired sessions for the user,
// most recent first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.DeviceSession, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM device_sessions
		 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > now()
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DeviceSession
	for rows.Next() {
		s, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.DeviceSession) error {
	var deviceID *string
	if s.DeviceID != "" {
		deviceID = &s.DeviceID
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO device_sessions (id, user_id, device_id, fingerprint, browser, os, ip_address, location, trusted, last_activity_at, expires_at, revoked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.UserID, deviceID, s.Fingerprint, s.Browser, s.OS, s.IPAddress, s.Location, s.Trusted, s.LastActivityAt, s.ExpiresAt, s.RevokedAt, s.CreatedAt,
	)
	return err
}

// MarkTrusted sets the trust flag and binds the session to deviceID.
func (r *PostgresRepository) MarkTrusted(ctx context.Context, id, deviceID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE device_sessions SET trusted = TRUE, device_id = $2 WHERE id = $1`,
		id, deviceID,
	)
	return err
}

// Revoke marks the session with the given id as revoked. Returns an error if the update fails.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE device_sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`,
		id,
	)
	return err
}

// RevokeAllByUser revokes all active sessions for the given user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE device_sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`,
		userID,
	)
	return err
}

// UpdateLastActivity sets the session's last-activity timestamp for the given id.
func (r *PostgresRepository) UpdateLastActivity(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE device_sessions SET last_activity_at = $2 WHERE id = $1`,
		id, at,
	)
	return err
}

// RevokeExpired revokes sessions whose natural expiry has passed and returns
// the affected session ids so each can be pushed to the revocation cache.
func (r *PostgresRepository) RevokeExpired(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE device_sessions SET revoked_at = now()
		 WHERE revoked_at IS NULL AND expires_at <= $1
		 RETURNING id`,
		before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSession(row pgx.Row) (*domain.DeviceSession, error) {
	var s domain.DeviceSession
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.Fingerprint, &s.Browser, &s.OS, &s.IPAddress, &s.Location, &s.Trusted, &s.LastActivityAt, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) (*domain.DeviceSession, error) {
	var s domain.DeviceSession
	err := rows.Scan(&s.ID, &s.UserID, &s.DeviceID, &s.Fingerprint, &s.Browser, &s.OS, &s.IPAddress, &s.Location, &s.Trusted, &s.LastActivityAt, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
