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

// PostgresIdentityStore implements ports.IdentityStore on the identities table.
type PostgresIdentityStore struct {
	db DB
}

// NewPostgresIdentityStore creates a new PostgreSQL-backed identity store
func NewPostgresIdentityStore(db DB) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db}
}

var _ ports.IdentityStore = (*PostgresIdentityStore)(nil)

const identityColumns = `id, identifier, secret_hash, role, active, last_authenticated_at`

// Create inserts a new identity, used by the seed command
func (s *PostgresIdentityStore) Create(ctx context.Context, identity *core.Identity) error {
	query := `
		INSERT INTO identities (id, identifier, secret_hash, role, active)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.Exec(ctx, query,
		identity.ID,
		core.NormalizeIdentifier(identity.Identifier),
		identity.SecretHash,
		string(identity.Role),
		identity.Active,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: identity %s already exists", core.ErrValidation, identity.Identifier)
		}
		return fmt.Errorf("insert identity: %w", err)
	}

	return nil
}

// FindByIdentifier loads an identity by its normalized identifier
func (s *PostgresIdentityStore) FindByIdentifier(ctx context.Context, identifier string) (*core.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE identifier = $1`
	return s.scanIdentity(ctx, query, core.NormalizeIdentifier(identifier))
}

// FindByID loads an identity by id
func (s *PostgresIdentityStore) FindByID(ctx context.Context, id string) (*core.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	return s.scanIdentity(ctx, query, id)
}

// TouchLastAuthenticated records a successful login
func (s *PostgresIdentityStore) TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE identities SET last_authenticated_at = $2 WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touch identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrIdentityNotFound
	}

	return nil
}

func (s *PostgresIdentityStore) scanIdentity(ctx context.Context, query string, arg string) (*core.Identity, error) {
	var (
		identity core.Identity
		role     string
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&identity.ID,
		&identity.Identifier,
		&identity.SecretHash,
		&role,
		&identity.Active,
		&identity.LastAuthenticatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	identity.Role = core.Role(role)

	return &identity, nil
}
