package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/turnstile/adapters/store"
	"github.com/layer-3/turnstile/core"
)

func TestSessionJanitor_Sweep(t *testing.T) {
	ctx := context.Background()
	reg := store.NewMemoryRegistry()
	j := NewSessionJanitor(reg, 0)

	recs := []core.SessionRecord{
		{ID: "expired", OwnerID: "o", CreatedAt: testStart, ExpiresAt: testStart.Add(time.Minute)},
		{ID: "expired-revoked", OwnerID: "o", CreatedAt: testStart, ExpiresAt: testStart.Add(time.Minute), Revoked: true},
		{ID: "boundary", OwnerID: "o", CreatedAt: testStart, ExpiresAt: testStart.Add(time.Hour)},
		{ID: "revoked-live", OwnerID: "o", CreatedAt: testStart, ExpiresAt: testStart.Add(2 * time.Hour), Revoked: true},
	}
	for i := range recs {
		require.NoError(t, reg.Create(ctx, &recs[i]))
	}

	n, err := j.Sweep(ctx, testStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, reg.Len())

	_, err = reg.FindByID(ctx, "revoked-live")
	assert.NoError(t, err, "revoked but unexpired records are kept")
}

func TestSessionJanitor_NeverDeletesUnexpired(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sweep deletes exactly the records expired before now", prop.ForAll(
		func(offsets []int, revokedMask uint64, nowOffset int) bool {
			ctx := context.Background()
			reg := store.NewMemoryRegistry()
			now := testStart.Add(time.Duration(nowOffset) * time.Second)

			wantDeleted := 0
			for i, off := range offsets {
				rec := &core.SessionRecord{
					ID:        fmt.Sprintf("s%d", i),
					OwnerID:   "owner",
					CreatedAt: testStart,
					ExpiresAt: testStart.Add(time.Duration(off) * time.Second),
					Revoked:   revokedMask&(1<<(uint(i)%64)) != 0,
				}
				if rec.ExpiresAt.Before(now) {
					wantDeleted++
				}
				if err := reg.Create(ctx, rec); err != nil {
					return false
				}
			}

			n, err := NewSessionJanitor(reg, 0).Sweep(ctx, now)
			if err != nil || n != wantDeleted {
				return false
			}

			for i, off := range offsets {
				_, err := reg.FindByID(ctx, fmt.Sprintf("s%d", i))
				expires := testStart.Add(time.Duration(off) * time.Second)
				if expires.Before(now) != (err != nil) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-600, 600)),
		gen.UInt64(),
		gen.IntRange(-300, 300),
	))

	properties.TestingRun(t)
}

func TestSessionJanitor_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := &countingRegistry{SessionRegistry: store.NewMemoryRegistry()}
	j := NewSessionJanitor(reg, 5*time.Millisecond, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return reg.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestSessionJanitor_RunDisabled(t *testing.T) {
	j := NewSessionJanitor(failingRegistry{}, 0, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	j.Run(context.Background())
}
