package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/security"
	"github.com/layer-3/turnstile/telemetry"
)

// TokenIssuer mints access/refresh pairs and persists the refresh record
type TokenIssuer struct {
	tokenizer ports.Tokenizer
	registry  ports.SessionRegistry

	accessTTL  time.Duration
	refreshTTL time.Duration

	options
}

// NewTokenIssuer creates a new token issuer
func NewTokenIssuer(
	tokenizer ports.Tokenizer,
	registry ports.SessionRegistry,
	accessTTL, refreshTTL time.Duration,
	opts ...Option,
) *TokenIssuer {
	return &TokenIssuer{
		tokenizer:  tokenizer,
		registry:   registry,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		options:    newOptions(opts),
	}
}

// Issue creates a fresh pair sharing one token id. No tokens are returned
// unless the refresh record was persisted.
func (i *TokenIssuer) Issue(ctx context.Context, ownerID string, role core.Role) (_ *core.Issued, err error) {
	ctx, end := telemetry.StartSpan(ctx, "tokens.issue", attribute.String("owner.id", ownerID))
	defer func() { end(err) }()

	now := i.now().UTC().Truncate(time.Second)
	tokenID := i.newID()

	access := core.Claims{
		OwnerID:   ownerID,
		Role:      role,
		TokenID:   tokenID,
		Kind:      core.TokenKindAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.accessTTL),
	}
	refresh := core.Claims{
		OwnerID:   ownerID,
		TokenID:   tokenID,
		Kind:      core.TokenKindRefresh,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.refreshTTL),
	}

	accessToken, err := i.tokenizer.Encode(access)
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %w", core.ErrIssuance, err)
	}

	refreshToken, err := i.tokenizer.Encode(refresh)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %w", core.ErrIssuance, err)
	}

	// Persist before handing anything out
	rec := &core.SessionRecord{
		ID:         tokenID,
		SecretHash: security.HashRefreshToken(refreshToken),
		OwnerID:    ownerID,
		ExpiresAt:  refresh.ExpiresAt,
		CreatedAt:  now,
	}
	if err := i.registry.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: persist session: %w", core.ErrIssuance, err)
	}

	return &core.Issued{
		TokenID:       tokenID,
		AccessToken:   accessToken,
		RefreshToken:  refreshToken,
		AccessExpiry:  access.ExpiresAt,
		RefreshExpiry: refresh.ExpiresAt,
	}, nil
}
