package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/metrics"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/security"
	"github.com/layer-3/turnstile/telemetry"
)

// TokenRotator exchanges a refresh token for a new pair exactly once
type TokenRotator struct {
	tokenizer  ports.Tokenizer
	registry   ports.SessionRegistry
	identities ports.IdentityStore
	issuer     *TokenIssuer

	options
}

// NewTokenRotator creates a new token rotator
func NewTokenRotator(
	tokenizer ports.Tokenizer,
	registry ports.SessionRegistry,
	identities ports.IdentityStore,
	issuer *TokenIssuer,
	opts ...Option,
) *TokenRotator {
	return &TokenRotator{
		tokenizer:  tokenizer,
		registry:   registry,
		identities: identities,
		issuer:     issuer,
		options:    newOptions(opts),
	}
}

// Rotate consumes refreshToken and issues its successor. Every reason the
// token cannot be used is reported as core.ErrInvalidToken.
func (r *TokenRotator) Rotate(ctx context.Context, refreshToken string) (_ *core.Issued, err error) {
	ctx, end := telemetry.StartSpan(ctx, "tokens.rotate")
	defer func() {
		end(err)
		switch {
		case err == nil:
			metrics.RotationsTotal.WithLabelValues("success").Inc()
		case errors.Is(err, core.ErrInvalidToken):
			metrics.RotationsTotal.WithLabelValues("rejected").Inc()
		default:
			metrics.RotationsTotal.WithLabelValues("failed").Inc()
		}
	}()

	claims, err := r.tokenizer.Decode(refreshToken, core.TokenKindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	rec, err := r.registry.FindByID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, err
	}

	if !rec.Active(r.now()) || rec.OwnerID != claims.OwnerID {
		return nil, core.ErrInvalidToken
	}

	// The record must belong to exactly this token string
	if !security.RefreshTokenHashEqual(refreshToken, rec.SecretHash) {
		return nil, core.ErrInvalidToken
	}

	// Consume the predecessor; losers of a concurrent race see flipped=false
	flipped, err := r.registry.MarkRevoked(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, err
	}
	if !flipped {
		r.logger.WarnContext(ctx, "refresh token reuse rejected",
			slog.String("owner_id", rec.OwnerID),
			slog.String("token_id", rec.ID),
		)
		return nil, core.ErrInvalidToken
	}

	// Resolve the owner's current role; the predecessor is already consumed
	identity, err := r.identities.FindByID(ctx, rec.OwnerID)
	if err != nil {
		if errors.Is(err, core.ErrIdentityNotFound) {
			return nil, core.ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: resolve identity: %w", core.ErrRotation, err)
	}
	if !identity.Active {
		return nil, core.ErrInvalidToken
	}

	issued, err := r.issuer.Issue(ctx, identity.ID, identity.Role)
	if err != nil {
		r.logger.ErrorContext(ctx, "rotation failed after consuming refresh token",
			slog.String("owner_id", rec.OwnerID),
			slog.String("token_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", core.ErrRotation, err)
	}
	metrics.TokensIssuedTotal.WithLabelValues("rotation").Inc()

	if err := r.events.PublishRotated(ctx, rec.OwnerID, rec.ID, issued.TokenID); err != nil {
		r.logger.WarnContext(ctx, "failed to publish rotation event", slog.String("error", err.Error()))
	}

	return issued, nil
}
