package turnstile

import (
	"context"
	"time"
)

// Client represents the public interface for interacting with the session service
type Client interface {
	// Login verifies the credentials and returns a fresh token pair
	Login(ctx context.Context, identifier, secret string) (*Tokens, error)

	// Refresh rotates the refresh token and returns the successor pair.
	// The presented refresh token is unusable afterwards.
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)

	// Logout revokes the session of the access token
	Logout(ctx context.Context, accessToken string) error

	// Invalidate revokes every session of ownerID and returns how many were revoked
	Invalidate(ctx context.Context, accessToken, ownerID string) (int, error)

	// Sessions lists the active sessions of ownerID, newest first
	Sessions(ctx context.Context, accessToken, ownerID string) ([]Session, error)

	// Cleanup deletes expired sessions; admin only
	Cleanup(ctx context.Context, accessToken string) (int, error)

	// Me returns the identity carried by the access token
	Me(ctx context.Context, accessToken string) (*Me, error)
}

// Tokens is an access/refresh pair as returned by login and refresh
type Tokens struct {
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	AccessExpiry  time.Time `json:"accessExpiry"`
	RefreshExpiry time.Time `json:"refreshExpiry"`
	TokenType     string    `json:"tokenType"`
}

// Session is the public view of one active session
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Me describes the caller of an authenticated request
type Me struct {
	OwnerID   string    `json:"ownerId"`
	Role      string    `json:"role"`
	TokenID   string    `json:"tokenId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
