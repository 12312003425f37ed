package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/metrics"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/security"
	"github.com/layer-3/turnstile/telemetry"
)

// CredentialVerifier checks a secret against a stored adaptive hash
type CredentialVerifier interface {
	Verify(secret, storedHash string) (security.VerifyResult, error)
	DummyHash() string
}

// Config holds the token lifetimes and janitor schedule
type Config struct {
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	JanitorInterval time.Duration
}

// AuthService handles authentication business logic
type AuthService struct {
	verifier   CredentialVerifier
	identities ports.IdentityStore
	tokenizer  ports.Tokenizer
	registry   ports.SessionRegistry

	issuer      *TokenIssuer
	rotator     *TokenRotator
	revocations *RevocationManager
	janitor     *SessionJanitor

	options
}

// NewAuthService creates a new authentication service
func NewAuthService(
	cfg Config,
	verifier CredentialVerifier,
	identities ports.IdentityStore,
	tokenizer ports.Tokenizer,
	registry ports.SessionRegistry,
	opts ...Option,
) *AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}

	issuer := NewTokenIssuer(tokenizer, registry, cfg.AccessTTL, cfg.RefreshTTL, opts...)

	return &AuthService{
		verifier:    verifier,
		identities:  identities,
		tokenizer:   tokenizer,
		registry:    registry,
		issuer:      issuer,
		rotator:     NewTokenRotator(tokenizer, registry, identities, issuer, opts...),
		revocations: NewRevocationManager(registry, opts...),
		janitor:     NewSessionJanitor(registry, cfg.JanitorInterval, opts...),
		options:     newOptions(opts),
	}
}

// Janitor returns the session janitor so callers can run it in the background
func (s *AuthService) Janitor() *SessionJanitor {
	return s.janitor
}

// Login verifies the credentials and issues a fresh pair. Unknown, wrong and
// inactive identities all fail with core.ErrInvalidCredentials after a full
// verification.
func (s *AuthService) Login(ctx context.Context, identifier, secret string) (_ *core.Issued, err error) {
	ctx, end := telemetry.StartSpan(ctx, "auth.login")
	defer func() {
		end(err)
		switch {
		case err == nil:
			metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
		case errors.Is(err, core.ErrInvalidCredentials):
			metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
		default:
			metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		}
	}()

	identity, err := s.identities.FindByIdentifier(ctx, core.NormalizeIdentifier(identifier))
	if err != nil {
		// Spend the same verification time as a real identity would
		_, _ = s.verifier.Verify(secret, s.verifier.DummyHash())
		if !errors.Is(err, core.ErrIdentityNotFound) {
			return nil, fmt.Errorf("find identity: %w", err)
		}
		return nil, core.ErrInvalidCredentials
	}

	res, err := s.verifier.Verify(secret, identity.SecretHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored secret hash is unusable",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return nil, core.ErrInvalidCredentials
	}
	if !res.Valid || !identity.Active {
		return nil, core.ErrInvalidCredentials
	}

	issued, err := s.issuer.Issue(ctx, identity.ID, identity.Role)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues("login").Inc()

	if err := s.identities.TouchLastAuthenticated(ctx, identity.ID, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to record last authentication",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}

	return issued, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*core.Issued, error) {
	return s.rotator.Rotate(ctx, refreshToken)
}

// Logout revokes the session the access token belongs to
func (s *AuthService) Logout(ctx context.Context, claims *core.Claims) error {
	return s.revocations.RevokeOne(ctx, claims.TokenID)
}

// Invalidate revokes every active session of ownerID
func (s *AuthService) Invalidate(ctx context.Context, ownerID string) (int, error) {
	return s.revocations.RevokeAll(ctx, ownerID)
}

// Sessions lists the active sessions of ownerID, newest first
func (s *AuthService) Sessions(ctx context.Context, ownerID string) (_ []core.SessionRecord, err error) {
	ctx, end := telemetry.StartSpan(ctx, "sessions.list", attribute.String("owner.id", ownerID))
	defer func() { end(err) }()

	recs, err := s.registry.ListActiveByOwner(ctx, ownerID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return recs, nil
}

// Cleanup runs one janitor sweep now
func (s *AuthService) Cleanup(ctx context.Context) (int, error) {
	return s.janitor.Sweep(ctx, s.now())
}

// ValidateAccessToken checks signature, expiry and kind. It never touches the registry.
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Claims, error) {
	claims, err := s.tokenizer.Decode(accessToken, core.TokenKindAccess)
	if err != nil {
		return nil, err
	}

	return claims, nil
}
