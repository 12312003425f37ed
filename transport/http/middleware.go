package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/logging"
	"github.com/layer-3/turnstile/metrics"
	"github.com/layer-3/turnstile/ports"
)

const (
	// ClaimsKey is the gin context key holding the verified *core.Claims
	ClaimsKey = "claims"

	// CorrelationIDHeader is echoed on every response
	CorrelationIDHeader = "X-Correlation-ID"

	correlationIDKey = "correlation_id"
)

// TokenValidator verifies access tokens without consulting persisted state
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*core.Claims, error)
}

// ClaimsFrom returns the claims attached by Authenticate
func ClaimsFrom(c *gin.Context) (*core.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*core.Claims)
	return claims, ok
}

// Authenticate creates middleware that validates bearer access tokens
func Authenticate(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithCode(c, http.StatusUnauthorized, CodeMissingToken, "missing authorization header")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortWithCode(c, http.StatusUnauthorized, CodeInvalidTokenFormat, "authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := validator.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole allows the request only when the caller holds one of roles
func RequireRole(roles ...core.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok || !hasRole(claims.Role, roles) {
			abortWithError(c, core.ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequireOwnerOrRole allows the request when the caller owns the resource
// named by the path parameter or holds one of roles
func RequireOwnerOrRole(param string, roles ...core.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abortWithError(c, core.ErrForbidden)
			return
		}
		if claims.OwnerID != c.Param(param) && !hasRole(claims.Role, roles) {
			abortWithError(c, core.ErrForbidden)
			return
		}
		c.Next()
	}
}

func hasRole(role core.Role, roles []core.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// LoginLimit configures the fixed-window login limiter
type LoginLimit struct {
	Counter     ports.AttemptCounter
	MaxAttempts int
	Window      time.Duration
	Now         func() time.Time
}

// LoginRateLimit counts every login attempt per client IP. Once the count
// exceeds MaxAttempts the request is rejected until the window elapses;
// successful logins do not reset the window.
func LoginRateLimit(cfg LoginLimit, logger *slog.Logger) gin.HandlerFunc {
	if cfg.Counter == nil || cfg.MaxAttempts <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(c *gin.Context) {
		key := c.ClientIP()

		count, resetAt, err := cfg.Counter.Hit(c.Request.Context(), key, cfg.Window)
		if err != nil {
			// Fail open: an unavailable counter must not lock every user out
			logger.WarnContext(c.Request.Context(), "login limiter unavailable", slog.String("error", err.Error()))
			c.Next()
			return
		}

		if count > cfg.MaxAttempts {
			metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
			logger.WarnContext(c.Request.Context(), "login rate limit exceeded",
				slog.String("ip", key),
				slog.Int("attempts", count),
			)
			abortWithError(c, &core.RateLimitError{Key: key, RetryAfter: resetAt.Sub(cfg.Now())})
			return
		}

		c.Next()
	}
}

// RequestLogger logs one line per request and propagates a correlation id
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		c.Set(correlationIDKey, correlationID)
		c.Header(CorrelationIDHeader, correlationID)
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), correlationID))

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.String()))
		}

		ctx := c.Request.Context()
		l := logging.WithContext(ctx, logger)
		switch {
		case status >= http.StatusInternalServerError:
			l.ErrorContext(ctx, "request failed", attrs...)
		case status >= http.StatusBadRequest:
			l.WarnContext(ctx, "request rejected", attrs...)
		default:
			l.InfoContext(ctx, "request completed", attrs...)
		}
	}
}

// Recovery converts panics into a 500 JSON body
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			slog.Any("panic", recovered),
			slog.String("path", c.Request.URL.Path),
		)
		abortWithCode(c, http.StatusInternalServerError, CodeInternal, "internal server error")
	})
}

// Metrics records request counts and latency per route
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
