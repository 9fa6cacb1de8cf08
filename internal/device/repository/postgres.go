package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"device-trust-engine/internal/device/domain"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository returns a trusted-device repository that uses the given pool for persistence.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const deviceColumns = `id, user_id, fingerprint, display_name, last_ip, last_location, trusted_at, last_used_at`

// GetByID returns the trusted device for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.TrustedDevice, error) {
	row := r.db.QueryRow(ctx, `SELECT `+deviceColumns+` FROM trusted_devices WHERE id = $1`, id)
	return scanDevice(row)
}

// GetByUserAndFingerprint returns the trusted device for (user, fingerprint), or nil if not found.
func (r *PostgresRepository) GetByUserAndFingerprint(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM trusted_devices WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint)
	return scanDevice(row)
}

// ListByUser returns all trusted devices for the user, most recently trusted first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deviceColumns+` FROM trusted_devices WHERE user_id = $1 ORDER BY trusted_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.TrustedDevice
	for rows.Next() {
		var d domain.TrustedDevice
		if err := rows.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.DisplayName, &d.LastIP, &d.LastLocation, &d.TrustedAt, &d.LastUsedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Create persists the trusted device. The device must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.TrustedDevice) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO trusted_devices (id, user_id, fingerprint, display_name, last_ip, last_location, trusted_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.UserID, d.Fingerprint, d.DisplayName, d.LastIP, d.LastLocation, d.TrustedAt, d.LastUsedAt,
	)
	return err
}

// Rename updates the device's display name.
func (r *PostgresRepository) Rename(ctx context.Context, id, displayName string) error {
	_, err := r.db.Exec(ctx, `UPDATE trusted_devices SET display_name = $2 WHERE id = $1`, id, displayName)
	return err
}

// UpdateLastUsed refreshes the device's last-seen network metadata and timestamp.
func (r *PostgresRepository) UpdateLastUsed(ctx context.Context, id, ip, location string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE trusted_devices SET last_ip = $2, last_location = $3, last_used_at = $4 WHERE id = $1`,
		id, ip, location, at,
	)
	return err
}

// Delete removes the trusted device.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM trusted_devices WHERE id = $1`, id)
	return err
}

func scanDevice(row pgx.Row) (*domain.TrustedDevice, error) {
	var d domain.TrustedDevice
	err := row.Scan(&d.ID, &d.UserID, &d.Fingerprint, &d.DisplayName, &d.LastIP, &d.LastLocation, &d.TrustedAt, &d.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}
