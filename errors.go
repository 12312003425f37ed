package turnstile

import (
	"fmt"
	"time"

	"github.com/layer-3/turnstile/core"
)

// APIError is a non-2xx response from the service
type APIError struct {
	Status     int
	Code       string
	Message    string
	Fields     map[string]string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("turnstile: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps the response code back to the domain error so callers can use errors.Is
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "VALIDATION_ERROR":
		return core.ErrValidation
	case "INVALID_CREDENTIALS":
		return core.ErrInvalidCredentials
	case "MISSING_TOKEN", "INVALID_TOKEN_FORMAT", "INVALID_TOKEN":
		return core.ErrInvalidToken
	case "EXPIRED_TOKEN":
		return core.ErrTokenExpired
	case "FORBIDDEN":
		return core.ErrForbidden
	case "RATE_LIMITED":
		return core.ErrRateLimited
	case "SERVICE_UNAVAILABLE":
		return core.ErrRegistryUnavailable
	case "ROTATION_FAILED":
		return core.ErrRotation
	}
	return nil
}
