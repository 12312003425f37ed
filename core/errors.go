package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is returned for malformed request input
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is returned when login fails for any reason tied to the identity
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is the uniform error for tokens that cannot be used
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token's expiry has passed
	ErrTokenExpired = errors.New("token has expired")

	// ErrInvalidSignature is returned when a token signature does not verify
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrWrongKind is returned when an access token is presented as refresh or vice versa
	ErrWrongKind = errors.New("wrong token kind")

	// ErrMalformedToken is returned when a token cannot be parsed at all
	ErrMalformedToken = errors.New("malformed token")

	// ErrForbidden is returned when a valid identity lacks the required role
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited is returned when too many attempts were made in the current window
	ErrRateLimited = errors.New("rate limited")

	// ErrSessionNotFound is returned by registries when no record has the requested id
	ErrSessionNotFound = errors.New("session not found")

	// ErrIdentityNotFound is returned by identity stores when no identity matches
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrRegistryUnavailable is returned when the session registry fails or times out
	ErrRegistryUnavailable = errors.New("session registry unavailable")

	// ErrIssuance is returned when a token pair could not be issued
	ErrIssuance = errors.New("token issuance failed")

	// ErrRotation is returned when the predecessor was consumed but no successor could be issued
	ErrRotation = errors.New("token rotation failed")

	// ErrHashing is returned when a secret cannot be hashed
	ErrHashing = errors.New("secret hashing failed")

	// ErrMalformedHash is returned when a stored hash cannot be verified against
	ErrMalformedHash = errors.New("malformed stored hash")
)

// RateLimitError carries retry metadata for throttled callers
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// IsAuthentication reports whether err should surface as a 401
func IsAuthentication(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrWrongKind) ||
		errors.Is(err, ErrMalformedToken)
}
