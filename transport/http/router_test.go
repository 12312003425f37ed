package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/turnstile/adapters/limiter"
)

func TestLogin(t *testing.T) {
	s := newTestServer(t, nil)

	tok := s.login(t, "User@Example.com")
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, tok.RefreshExpiry.After(tok.AccessExpiry))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []gin.H{
		{"identifier": "user@example.com", "secret": "wrong"},
		{"identifier": "ghost@example.com", "secret": testSecret},
	} {
		w := s.do(t, http.MethodPost, "/auth/login", body, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeInvalidCredentials, decode[errorBody](t, w).Code)
	}
}

func TestLogin_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/auth/login", gin.H{"identifier": "user@example.com"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, CodeValidation, body.Code)
	assert.Equal(t, "is required", body.Fields["secret"])

	w = s.do(t, http.MethodPost, "/auth/login", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, decode[errorBody](t, w).Code)
}

func TestScenario_RefreshReuseIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.login(t, "user@example.com")

	w := s.do(t, http.MethodPost, "/tokens/refresh", gin.H{"refreshToken": first.RefreshToken}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decode[tokens](t, w)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	w = s.do(t, http.MethodPost, "/tokens/refresh", gin.H{"refreshToken": first.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeInvalidToken, decode[errorBody](t, w).Code)

	w = s.do(t, http.MethodPost, "/tokens/refresh", gin.H{"refreshToken": second.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScenario_LoginRateLimit(t *testing.T) {
	const maxAttempts = 3
	s := newTestServer(t, nil, func(cfg *RouterConfig) {
		cfg.LoginLimit = LoginLimit{
			Counter:     limiter.NewMemoryCounter(),
			MaxAttempts: maxAttempts,
			Window:      time.Minute,
		}
	})

	// A successful login still counts toward the window
	s.login(t, "user@example.com")
	for i := 1; i < maxAttempts; i++ {
		w := s.do(t, http.MethodPost, "/auth/login", gin.H{"identifier": "user@example.com", "secret": "wrong"}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := s.do(t, http.MethodPost, "/auth/login", gin.H{"identifier": "user@example.com", "secret": testSecret}, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, CodeRateLimited, decode[errorBody](t, w).Code)
	assert.Equal(t, strconv.Itoa(int(time.Minute.Seconds())), w.Header().Get("Retry-After"))
}

func TestAuthenticate_ErrorCodes(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.login(t, "user@example.com")

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{name: "missing header", header: "", code: CodeMissingToken},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", code: CodeInvalidTokenFormat},
		{name: "bearer without token", header: "Bearer ", code: CodeInvalidTokenFormat},
		{name: "garbage token", header: "Bearer abc.def.ghi", code: CodeInvalidToken},
		{name: "refresh token as bearer", header: "Bearer " + tok.RefreshToken, code: CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := newRecorder(s, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, w).Code)
		})
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.login(t, "user@example.com")

	w := s.do(t, http.MethodGet, "/auth/me", nil, tok.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, userID, me["ownerId"])
	assert.Equal(t, "user", me["role"])

	s.clock.Advance(6 * time.Minute)
	w = s.do(t, http.MethodGet, "/auth/me", nil, tok.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeExpiredToken, decode[errorBody](t, w).Code)
}

func TestRoleGating(t *testing.T) {
	s := newTestServer(t, nil)
	user := s.login(t, "user@example.com")
	other := s.login(t, "other@example.com")
	admin := s.login(t, "admin@example.com")

	// Non-admin acting on someone else's sessions
	w := s.do(t, http.MethodPost, "/tokens/invalidate/"+otherID, nil, user.AccessToken)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeForbidden, decode[errorBody](t, w).Code)

	w = s.do(t, http.MethodGet, "/tokens/sessions/"+userID, nil, other.AccessToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/tokens/cleanup", nil, other.AccessToken)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Owner may manage their own sessions
	w = s.do(t, http.MethodGet, "/tokens/sessions/"+userID, nil, user.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode[struct {
		Sessions []map[string]any `json:"sessions"`
	}](t, w)
	assert.Len(t, sessions.Sessions, 1)

	// Admin may act on anyone
	w = s.do(t, http.MethodPost, "/tokens/invalidate/"+otherID, nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["revokedCount"])

	w = s.do(t, http.MethodPost, "/tokens/cleanup", nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["deletedCount"])
}

func TestScenario_InvalidateThenRefresh(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.login(t, "user@example.com")
	b := s.login(t, "user@example.com")

	w := s.do(t, http.MethodPost, "/tokens/invalidate/"+userID, nil, a.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, w)["revokedCount"])

	for _, tok := range []tokens{a, b} {
		w := s.do(t, http.MethodPost, "/tokens/refresh", gin.H{"refreshToken": tok.RefreshToken}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeInvalidToken, decode[errorBody](t, w).Code)
	}
}

func TestLogout(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.login(t, "user@example.com")

	w := s.do(t, http.MethodPost, "/tokens/logout", nil, tok.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	// Idempotent while the access token lives
	w = s.do(t, http.MethodPost, "/tokens/logout", nil, tok.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/tokens/refresh", gin.H{"refreshToken": tok.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCleanup_DeletesExpired(t *testing.T) {
	s := newTestServer(t, nil)
	s.login(t, "user@example.com")

	s.clock.Advance(2 * time.Hour)
	admin := s.login(t, "admin@example.com")

	w := s.do(t, http.MethodPost, "/tokens/cleanup", nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, w)["deletedCount"])
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(CorrelationIDHeader))

	w = s.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "turnstile_http_requests_total")
}

func (s *testServer) loginFrom(t *testing.T, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		jsonBody(t, gin.H{"identifier": "user@example.com", "secret": "wrong"}))
	req.Header.Set("Content-Type", "application/json")
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestLoginRateLimit_IgnoresForwardedForByDefault(t *testing.T) {
	s := newTestServer(t, nil, func(cfg *RouterConfig) {
		cfg.LoginLimit.MaxAttempts = 3
	})

	statuses := map[int]int{}
	for i := 0; i < 10; i++ {
		w := s.loginFrom(t, "203.0.113.5:5555", fmt.Sprintf("10.0.0.%d", i))
		statuses[w.Code]++
	}

	assert.Equal(t, 3, statuses[http.StatusUnauthorized])
	assert.Equal(t, 7, statuses[http.StatusTooManyRequests])
}

func TestLoginRateLimit_TrustedProxy(t *testing.T) {
	s := newTestServer(t, nil, func(cfg *RouterConfig) {
		cfg.LoginLimit.MaxAttempts = 1
		cfg.TrustedProxies = []string{"203.0.113.0/24"}
	})

	// Distinct clients behind the trusted proxy get their own windows
	for i := 0; i < 3; i++ {
		w := s.loginFrom(t, "203.0.113.5:5555", fmt.Sprintf("10.0.0.%d", i))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// Forwarded headers from an untrusted peer are ignored
	w := s.loginFrom(t, "198.51.100.9:1000", "10.0.0.50")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.loginFrom(t, "198.51.100.9:1000", "10.0.0.51")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestThrottle_IgnoresForwardedForByDefault(t *testing.T) {
	s := newTestServer(t, nil, func(cfg *RouterConfig) {
		cfg.APIRPS = 0.001
		cfg.APIBurst = 1
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.0.%d", i))
		codes = append(codes, newRecorder(s, req).Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
