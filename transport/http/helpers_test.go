package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/turnstile/adapters/limiter"
	"github.com/layer-3/turnstile/adapters/store"
	"github.com/layer-3/turnstile/adapters/tokenizer"
	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/security"
	"github.com/layer-3/turnstile/service"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const (
	userID     = "id-user"
	otherID    = "id-other"
	adminID    = "id-admin"
	testSecret = "s3cret-passphrase"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	router   *gin.Engine
	clock    *clock
	registry ports.SessionRegistry
}

type serverOption func(*RouterConfig)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, registry ports.SessionRegistry, opts ...serverOption) *testServer {
	t.Helper()
	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}

	tok, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		Issuer:     "turnstile-test",
		AccessKey:  []byte("0123456789abcdef0123456789abcdef-access"),
		RefreshKey: []byte("0123456789abcdef0123456789abcdef-refresh"),
	}, tokenizer.WithClock(clk.Now))
	require.NoError(t, err)

	verifier, err := security.NewVerifier(bcrypt.MinCost, security.NoFloor)
	require.NoError(t, err)
	hash, err := verifier.Hash(testSecret)
	require.NoError(t, err)

	identities, err := store.NewMemoryIdentityStore(
		core.Identity{ID: userID, Identifier: "user@example.com", SecretHash: hash.Hash, Role: core.RoleUser, Active: true},
		core.Identity{ID: otherID, Identifier: "other@example.com", SecretHash: hash.Hash, Role: core.RoleManager, Active: true},
		core.Identity{ID: adminID, Identifier: "admin@example.com", SecretHash: hash.Hash, Role: core.RoleAdmin, Active: true},
	)
	require.NoError(t, err)

	if registry == nil {
		registry = store.NewMemoryRegistry()
	}

	svc := service.NewAuthService(service.Config{
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
	}, verifier, identities, tok, registry,
		service.WithClock(clk.Now),
		service.WithLogger(discard()),
	)

	cfg := RouterConfig{
		AuthService: svc,
		LoginLimit: LoginLimit{
			Counter:     limiter.NewMemoryCounter(),
			MaxAttempts: 100,
			Window:      time.Minute,
		},
		Logger: discard(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testServer{router: SetupRouter(cfg), clock: clk, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.10:4321"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type tokens struct {
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken"`
	AccessExpiry  time.Time `json:"accessExpiry"`
	RefreshExpiry time.Time `json:"refreshExpiry"`
	TokenType     string    `json:"tokenType"`
}

type errorBody struct {
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) login(t *testing.T, identifier string) tokens {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auth/login", gin.H{"identifier": identifier, "secret": testSecret}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[tokens](t, w)
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func newRecorder(s *testServer, req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "192.0.2.10:4321"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}
