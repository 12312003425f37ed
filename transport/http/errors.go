package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/turnstile/core"
)

// Error codes carried in the "code" field of every error body
const (
	CodeMissingToken       = "MISSING_TOKEN"
	CodeInvalidTokenFormat = "INVALID_TOKEN_FORMAT"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeExpiredToken       = "EXPIRED_TOKEN"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnavailable        = "SERVICE_UNAVAILABLE"
	CodeRotationFailed     = "ROTATION_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

type apiError struct {
	status  int
	code    string
	message string
}

// mapError is the single place domain errors become HTTP responses.
// Order matters: a rotation failure may also wrap a registry error.
func mapError(err error) apiError {
	var rl *core.RateLimitError

	switch {
	case errors.Is(err, core.ErrValidation):
		return apiError{http.StatusBadRequest, CodeValidation, "invalid request"}
	case errors.As(err, &rl), errors.Is(err, core.ErrRateLimited):
		return apiError{http.StatusTooManyRequests, CodeRateLimited, "too many requests"}
	case errors.Is(err, core.ErrRotation):
		return apiError{http.StatusInternalServerError, CodeRotationFailed, "token rotation failed"}
	case errors.Is(err, core.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials"}
	case errors.Is(err, core.ErrTokenExpired):
		return apiError{http.StatusUnauthorized, CodeExpiredToken, "token has expired"}
	case core.IsAuthentication(err):
		return apiError{http.StatusUnauthorized, CodeInvalidToken, "invalid token"}
	case errors.Is(err, core.ErrForbidden):
		return apiError{http.StatusForbidden, CodeForbidden, "insufficient permissions"}
	case errors.Is(err, core.ErrRegistryUnavailable):
		return apiError{http.StatusServiceUnavailable, CodeUnavailable, "service temporarily unavailable"}
	default:
		return apiError{http.StatusInternalServerError, CodeInternal, "internal server error"}
	}
}

// abortWithError records err on the context for the request logger and
// writes the mapped JSON body. Messages are generic; err never reaches the client.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	var rl *core.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		c.Header("Retry-After", retryAfterSeconds(rl.RetryAfter))
	}

	e := mapError(err)
	abortWithCode(c, e.status, e.code, e.message)
}

func abortWithCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": message})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
