package core

import (
	"strings"
	"time"
)

// Role is the enumerated authorization role of an identity
type Role string

const (
	// RoleAdmin is the elevated role allowed to manage any owner's sessions
	RoleAdmin Role = "admin"

	// RoleManager manages business entities but not other owners' sessions
	RoleManager Role = "manager"

	// RoleUser is the default role
	RoleUser Role = "user"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}

// Elevated reports whether r may act on sessions it does not own
func (r Role) Elevated() bool {
	return r == RoleAdmin
}

// Identity is the account record owned by the identity store.
// This subsystem reads it and only writes LastAuthenticatedAt.
type Identity struct {
	ID                  string     // Unique identity id
	Identifier          string     // Normalized-lowercase email or username
	SecretHash          string     // bcrypt hash of the secret
	Role                Role       // Authorization role
	Active              bool       // Inactive identities cannot log in or refresh
	LastAuthenticatedAt *time.Time // Last successful login, nil if never
}

// NormalizeIdentifier lowercases and trims a login identifier
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// SessionRecord is the persisted counterpart of one issued refresh token
type SessionRecord struct {
	ID         string    // Token identifier shared by the access/refresh pair
	SecretHash string    // SHA-256 hex of the refresh token string
	OwnerID    string    // Identity the session belongs to
	ExpiresAt  time.Time // Absolute expiry, fixed at creation
	Revoked    bool      // Monotonic false -> true
	CreatedAt  time.Time // Creation instant
}

// Active reports whether the record may still be used for rotation or listing
func (r SessionRecord) Active(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// Expired reports whether the janitor may delete the record
func (r SessionRecord) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// TokenKind distinguishes access and refresh claim sets
type TokenKind string

const (
	// TokenKindAccess is a short-lived bearer credential
	TokenKindAccess TokenKind = "access"

	// TokenKindRefresh is a long-lived, single-use credential backed by a SessionRecord
	TokenKindRefresh TokenKind = "refresh"
)

// Claims is the signed payload carried by access and refresh tokens
type Claims struct {
	OwnerID   string    // Identity id
	Role      Role      // Empty for refresh tokens
	TokenID   string    // SessionRecord id
	Kind      TokenKind // access or refresh
	IssuedAt  time.Time // When the token was signed
	ExpiresAt time.Time // When the token stops being valid
}

// Issued is a freshly minted access/refresh pair
type Issued struct {
	TokenID       string
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}
