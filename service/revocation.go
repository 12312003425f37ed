package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/metrics"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/telemetry"
)

// RevocationManager revokes one session or every session of an owner
type RevocationManager struct {
	registry ports.SessionRegistry

	options
}

// NewRevocationManager creates a new revocation manager
func NewRevocationManager(registry ports.SessionRegistry, opts ...Option) *RevocationManager {
	return &RevocationManager{
		registry: registry,
		options:  newOptions(opts),
	}
}

// RevokeOne revokes the session with tokenID. Unknown and already revoked
// ids succeed without effect.
func (m *RevocationManager) RevokeOne(ctx context.Context, tokenID string) (err error) {
	ctx, end := telemetry.StartSpan(ctx, "sessions.revoke_one", attribute.String("token.id", tokenID))
	defer func() { end(err) }()

	flipped, err := m.registry.MarkRevoked(ctx, tokenID)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	if !flipped {
		return nil
	}
	metrics.SessionsRevokedTotal.WithLabelValues("one").Inc()

	// Owner lookup only feeds the event
	ownerID := ""
	if rec, err := m.registry.FindByID(ctx, tokenID); err == nil {
		ownerID = rec.OwnerID
	}
	if err := m.events.PublishRevoked(ctx, ownerID, tokenID); err != nil {
		m.logger.WarnContext(ctx, "failed to publish revocation event", slog.String("error", err.Error()))
	}

	return nil
}

// RevokeAll revokes every active session of ownerID and returns how many flipped
func (m *RevocationManager) RevokeAll(ctx context.Context, ownerID string) (_ int, err error) {
	ctx, end := telemetry.StartSpan(ctx, "sessions.revoke_all", attribute.String("owner.id", ownerID))
	defer func() { end(err) }()

	count, err := m.registry.RevokeAllByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("revoke owner sessions: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	metrics.SessionsRevokedTotal.WithLabelValues("all").Add(float64(count))

	if err := m.events.PublishRevokedAll(ctx, ownerID, count); err != nil {
		m.logger.WarnContext(ctx, "failed to publish revocation event", slog.String("error", err.Error()))
	}

	return count, nil
}
