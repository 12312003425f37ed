package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/turnstile/adapters/store"
	"github.com/layer-3/turnstile/core"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("bind: %w", core.ErrValidation), http.StatusBadRequest, CodeValidation},
		{"rate limited", &core.RateLimitError{RetryAfter: time.Second}, http.StatusTooManyRequests, CodeRateLimited},
		{"rotation wraps registry", fmt.Errorf("%w: %w", core.ErrRotation, core.ErrRegistryUnavailable), http.StatusInternalServerError, CodeRotationFailed},
		{"credentials", core.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials},
		{"expired", core.ErrTokenExpired, http.StatusUnauthorized, CodeExpiredToken},
		{"signature", core.ErrInvalidSignature, http.StatusUnauthorized, CodeInvalidToken},
		{"wrong kind", core.ErrWrongKind, http.StatusUnauthorized, CodeInvalidToken},
		{"expired refresh collapses", fmt.Errorf("%w: %v", core.ErrInvalidToken, core.ErrTokenExpired), http.StatusUnauthorized, CodeInvalidToken},
		{"forbidden", core.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{"registry", fmt.Errorf("%w: find: timeout", core.ErrRegistryUnavailable), http.StatusServiceUnavailable, CodeUnavailable},
		{"issuance", fmt.Errorf("%w: boom", core.ErrIssuance), http.StatusInternalServerError, CodeInternal},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			assert.Equal(t, tt.status, got.status)
			assert.Equal(t, tt.code, got.code)
			assert.NotContains(t, got.message, "boom")
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "1", retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, "2", retryAfterSeconds(1100*time.Millisecond))
	assert.Equal(t, "60", retryAfterSeconds(time.Minute))
}

type unavailableRegistry struct {
	*store.MemoryRegistry
}

func (unavailableRegistry) FindByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	return nil, fmt.Errorf("%w: find_by_id: connection refused", core.ErrRegistryUnavailable)
}

func TestRefresh_RegistryUnavailable(t *testing.T) {
	s := newTestServer(t, unavailableRegistry{store.NewMemoryRegistry()})
	tok := s.login(t, "user@example.com")

	w := s.do(t, http.MethodPost, "/tokens/refresh", gin.H{"refreshToken": tok.RefreshToken}, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, CodeUnavailable, body.Code)
	assert.NotContains(t, body.Error, "connection refused")
}

type brokenCounter struct{}

func (brokenCounter) Hit(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("redis down")
}

func TestLoginRateLimit_FailsOpen(t *testing.T) {
	s := newTestServer(t, nil, func(cfg *RouterConfig) {
		cfg.LoginLimit = LoginLimit{Counter: brokenCounter{}, MaxAttempts: 1, Window: time.Minute}
	})

	s.login(t, "user@example.com")
	s.login(t, "user@example.com")
}

func TestLoginRateLimit_PerClient(t *testing.T) {
	s := newTestServer(t, nil, func(cfg *RouterConfig) {
		cfg.LoginLimit.MaxAttempts = 1
	})

	s.login(t, "user@example.com")

	w := s.do(t, http.MethodPost, "/auth/login", gin.H{"identifier": "user@example.com", "secret": testSecret}, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		jsonBody(t, gin.H{"identifier": "user@example.com", "secret": testSecret}))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:1000"
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestThrottle(t *testing.T) {
	s := newTestServer(t, nil, func(cfg *RouterConfig) {
		cfg.APIRPS = 0.001
		cfg.APIBurst = 2
	})

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodGet, "/healthz", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decode[errorBody](t, w).Code)
}

func TestVisitorStore_EvictsIdle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	vs := newVisitorStore(1, 1, time.Minute)
	vs.now = func() time.Time { return now }

	vs.get("a")
	vs.get("b")
	assert.Equal(t, 2, vs.len())

	now = now.Add(2 * time.Minute)
	vs.get("c")
	assert.Equal(t, 1, vs.len())
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(discard()))
	router.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, CodeInternal, decode[errorBody](t, w).Code)
}

func TestRequestLogger_EchoesCorrelationID(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(CorrelationIDHeader, "corr-123")
	w := newRecorder(s, req)

	assert.Equal(t, "corr-123", w.Header().Get(CorrelationIDHeader))
}

func TestRequireOwnerOrRole_NoClaims(t *testing.T) {
	router := gin.New()
	router.GET("/x/:ownerId", RequireOwnerOrRole("ownerId", core.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x/id-user", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
