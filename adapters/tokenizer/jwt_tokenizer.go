package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
)

// minKeyLength is the shortest accepted HMAC key in bytes
const minKeyLength = 32

// Config holds the signing material for both token kinds
type Config struct {
	Issuer     string
	AccessKey  []byte
	RefreshKey []byte
	Leeway     time.Duration
}

// JWTTokenizer implements ports.Tokenizer with HS256 and one key per token kind
type JWTTokenizer struct {
	issuer string
	keys   map[core.TokenKind][]byte
	leeway time.Duration
	now    func() time.Time
}

// Option customizes a JWTTokenizer
type Option func(*JWTTokenizer)

// WithClock overrides the clock used for validation
func WithClock(now func() time.Time) Option {
	return func(t *JWTTokenizer) {
		t.now = now
	}
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(cfg Config, opts ...Option) (ports.Tokenizer, error) {
	if len(cfg.AccessKey) < minKeyLength || len(cfg.RefreshKey) < minKeyLength {
		return nil, fmt.Errorf("signing keys must be at least %d bytes", minKeyLength)
	}
	if string(cfg.AccessKey) == string(cfg.RefreshKey) {
		return nil, errors.New("access and refresh signing keys must differ")
	}

	t := &JWTTokenizer{
		issuer: cfg.Issuer,
		keys: map[core.TokenKind][]byte{
			core.TokenKindAccess:  cfg.AccessKey,
			core.TokenKindRefresh: cfg.RefreshKey,
		},
		leeway: cfg.Leeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Encode signs the claim set with the key of its kind
func (j *JWTTokenizer) Encode(c core.Claims) (string, error) {
	key, ok := j.keys[c.Kind]
	if !ok {
		return "", core.ErrWrongKind
	}

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   c.OwnerID,
			ID:        c.TokenID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
		Kind: string(c.Kind),
		Role: string(c.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", c.Kind, err)
	}

	return signed, nil
}

// Decode verifies signature, expiry and kind
func (j *JWTTokenizer) Decode(tokenStr string, expected core.TokenKind) (*core.Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
	)

	claims := &tokenClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// The key is picked by the claimed kind, so forging the kind requires that kind's key
		c, ok := token.Claims.(*tokenClaims)
		if !ok {
			return nil, core.ErrMalformedToken
		}
		key, ok := j.keys[core.TokenKind(c.Kind)]
		if !ok {
			return nil, core.ErrWrongKind
		}
		return key, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	if core.TokenKind(claims.Kind) != expected {
		return nil, core.ErrWrongKind
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, core.ErrMalformedToken
	}

	out := &core.Claims{
		OwnerID: claims.Subject,
		Role:    core.Role(claims.Role),
		TokenID: claims.ID,
		Kind:    expected,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}

	return out, nil
}

// mapParseError keeps raw jwt errors from crossing the package boundary
func mapParseError(err error) error {
	switch {
	case errors.Is(err, core.ErrWrongKind):
		return core.ErrWrongKind
	case errors.Is(err, jwt.ErrTokenExpired):
		return core.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return core.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return core.ErrMalformedToken
	default:
		return core.ErrInvalidToken
	}
}
