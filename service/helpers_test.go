package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/turnstile/adapters/store"
	"github.com/layer-3/turnstile/adapters/tokenizer"
	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/security"
)

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 24 * time.Hour
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a mutable clock shared by the tokenizer and the services
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testStart} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingRegistry counts every registry call and can fail Create on demand
type countingRegistry struct {
	ports.SessionRegistry
	calls      atomic.Int64
	failCreate atomic.Bool
	findHook   func(*core.SessionRecord)
}

var errBackend = errors.New("backend down")

func (r *countingRegistry) Create(ctx context.Context, rec *core.SessionRecord) error {
	r.calls.Add(1)
	if r.failCreate.Load() {
		return errBackend
	}
	return r.SessionRegistry.Create(ctx, rec)
}

func (r *countingRegistry) FindByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	r.calls.Add(1)
	rec, err := r.SessionRegistry.FindByID(ctx, id)
	if err == nil && r.findHook != nil {
		r.findHook(rec)
	}
	return rec, err
}

func (r *countingRegistry) MarkRevoked(ctx context.Context, id string) (bool, error) {
	r.calls.Add(1)
	return r.SessionRegistry.MarkRevoked(ctx, id)
}

func (r *countingRegistry) RevokeAllByOwner(ctx context.Context, ownerID string) (int, error) {
	r.calls.Add(1)
	return r.SessionRegistry.RevokeAllByOwner(ctx, ownerID)
}

func (r *countingRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.calls.Add(1)
	return r.SessionRegistry.DeleteExpired(ctx, now)
}

func (r *countingRegistry) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]core.SessionRecord, error) {
	r.calls.Add(1)
	return r.SessionRegistry.ListActiveByOwner(ctx, ownerID, now)
}

// recordingEvents captures published events
type recordingEvents struct {
	mu         sync.Mutex
	revoked    []string
	revokedAll []int
	rotated    [][2]string
}

func (e *recordingEvents) PublishRevoked(_ context.Context, _ string, tokenID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revoked = append(e.revoked, tokenID)
	return nil
}

func (e *recordingEvents) PublishRevokedAll(_ context.Context, _ string, count int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revokedAll = append(e.revokedAll, count)
	return nil
}

func (e *recordingEvents) PublishRotated(_ context.Context, _ string, from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotated = append(e.rotated, [2]string{from, to})
	return nil
}

type fixture struct {
	clock      *testClock
	tokenizer  ports.Tokenizer
	registry   *countingRegistry
	identities *store.MemoryIdentityStore
	verifier   *security.Verifier
	events     *recordingEvents
	svc        *AuthService
}

const (
	aliceID     = "id-alice"
	aliceSecret = "correct horse battery staple"
	adminID     = "id-admin"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newTestClock()

	tok, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		Issuer:     "turnstile-test",
		AccessKey:  []byte("access-key-access-key-access-key!"),
		RefreshKey: []byte("refresh-key-refresh-key-refresh-k"),
	}, tokenizer.WithClock(clock.Now))
	require.NoError(t, err)

	verifier, err := security.NewVerifier(bcrypt.MinCost, security.NoFloor)
	require.NoError(t, err)
	hash, err := verifier.Hash(aliceSecret)
	require.NoError(t, err)

	identities, err := store.NewMemoryIdentityStore(
		core.Identity{ID: aliceID, Identifier: "alice@example.com", SecretHash: hash.Hash, Role: core.RoleUser, Active: true},
		core.Identity{ID: adminID, Identifier: "admin@example.com", SecretHash: hash.Hash, Role: core.RoleAdmin, Active: true},
	)
	require.NoError(t, err)

	registry := &countingRegistry{SessionRegistry: store.NewMemoryRegistry()}
	events := &recordingEvents{}

	svc := NewAuthService(Config{AccessTTL: testAccessTTL, RefreshTTL: testRefreshTTL},
		verifier, identities, tok, registry,
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithEvents(events),
	)

	return &fixture{
		clock:      clock,
		tokenizer:  tok,
		registry:   registry,
		identities: identities,
		verifier:   verifier,
		events:     events,
		svc:        svc,
	}
}

func (f *fixture) login(t *testing.T) *core.Issued {
	t.Helper()
	issued, err := f.svc.Login(context.Background(), "alice@example.com", aliceSecret)
	require.NoError(t, err)
	return issued
}

// failingRegistry fails every call
type failingRegistry struct{}

func (failingRegistry) Create(context.Context, *core.SessionRecord) error { return errBackend }

func (failingRegistry) FindByID(context.Context, string) (*core.SessionRecord, error) {
	return nil, errBackend
}

func (failingRegistry) MarkRevoked(context.Context, string) (bool, error) { return false, errBackend }

func (failingRegistry) RevokeAllByOwner(context.Context, string) (int, error) { return 0, errBackend }

func (failingRegistry) DeleteExpired(context.Context, time.Time) (int, error) { return 0, errBackend }

func (failingRegistry) ListActiveByOwner(context.Context, string, time.Time) ([]core.SessionRecord, error) {
	return nil, errBackend
}
