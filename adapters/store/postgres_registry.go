package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
)

// PostgresRegistry implements ports.SessionRegistry on the sessions table.
type PostgresRegistry struct {
	db DB
}

// NewPostgresRegistry creates a new PostgreSQL-backed session registry
func NewPostgresRegistry(db DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

var _ ports.SessionRegistry = (*PostgresRegistry)(nil)

// Create inserts a new record
func (r *PostgresRegistry) Create(ctx context.Context, rec *core.SessionRecord) error {
	query := `
		INSERT INTO sessions (id, secret_hash, owner_id, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.SecretHash,
		rec.OwnerID,
		rec.ExpiresAt,
		rec.Revoked,
		rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s already exists", rec.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// FindByID loads a record by id
func (r *PostgresRegistry) FindByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	query := `
		SELECT id, secret_hash, owner_id, expires_at, revoked, created_at
		FROM sessions
		WHERE id = $1`

	var rec core.SessionRecord
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.SecretHash,
		&rec.OwnerID,
		&rec.ExpiresAt,
		&rec.Revoked,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	return &rec, nil
}

// MarkRevoked flips revoked in a single statement; the conditional update
// decides the winner when two callers race on the same id.
func (r *PostgresRegistry) MarkRevoked(ctx context.Context, id string) (bool, error) {
	query := `
		WITH target AS (
			SELECT id FROM sessions WHERE id = $1
		), flipped AS (
			UPDATE sessions SET revoked = TRUE
			WHERE id = $1 AND revoked = FALSE
			RETURNING id
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM flipped)`

	var found, flipped bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&found, &flipped); err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	if !found {
		return false, core.ErrSessionNotFound
	}

	return flipped, nil
}

// RevokeAllByOwner revokes every non-revoked record of the owner
func (r *PostgresRegistry) RevokeAllByOwner(ctx context.Context, ownerID string) (int, error) {
	query := `UPDATE sessions SET revoked = TRUE WHERE owner_id = $1 AND revoked = FALSE`

	tag, err := r.db.Exec(ctx, query, ownerID)
	if err != nil {
		return 0, fmt.Errorf("revoke owner sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// DeleteExpired removes records whose expiry is before now
func (r *PostgresRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// ListActiveByOwner returns the owner's usable records, newest first
func (r *PostgresRegistry) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]core.SessionRecord, error) {
	query := `
		SELECT id, secret_hash, owner_id, expires_at, revoked, created_at
		FROM sessions
		WHERE owner_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY created_at DESC, id ASC`

	rows, err := r.db.Query(ctx, query, ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := []core.SessionRecord{}
	for rows.Next() {
		var rec core.SessionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.SecretHash,
			&rec.OwnerID,
			&rec.ExpiresAt,
			&rec.Revoked,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return out, nil
}
