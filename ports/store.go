package ports

import (
	"context"
	"time"

	"github.com/layer-3/turnstile/core"
)

// SessionRegistry persists refresh-token records
type SessionRegistry interface {
	// Create stores a new record. The record id must be unique.
	Create(ctx context.Context, rec *core.SessionRecord) error

	// FindByID returns the record or core.ErrSessionNotFound
	FindByID(ctx context.Context, id string) (*core.SessionRecord, error)

	// MarkRevoked revokes the record only if it is not revoked yet.
	// It reports true when this call performed the transition and returns
	// core.ErrSessionNotFound for unknown ids.
	MarkRevoked(ctx context.Context, id string) (bool, error)

	// RevokeAllByOwner revokes every non-revoked record of the owner and returns how many changed
	RevokeAllByOwner(ctx context.Context, ownerID string) (int, error)

	// DeleteExpired removes every record with ExpiresAt before now, revoked or not
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// ListActiveByOwner returns the owner's records that are neither revoked nor expired
	ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]core.SessionRecord, error)
}

// IdentityStore is the read side of the external identity collaborator
type IdentityStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*core.Identity, error)
	FindByID(ctx context.Context, id string) (*core.Identity, error)
	TouchLastAuthenticated(ctx context.Context, id string, at time.Time) error
}

// AttemptCounter counts attempts per key inside a fixed window
type AttemptCounter interface {
	// Hit records one attempt and returns the count inside the current window
	// together with the instant the window resets.
	Hit(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}
