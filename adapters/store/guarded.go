package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/metrics"
	"github.com/layer-3/turnstile/ports"
)

// GuardConfig holds the per-call timeout and circuit breaker settings.
type GuardConfig struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// Timeout bounds every registry call.
	Timeout time.Duration

	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts; 0 never clears them.
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration

	// FailureRatio trips the breaker once MinRequests calls have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultGuardConfig returns the production defaults for a registry guard
func DefaultGuardConfig(name string, timeout time.Duration) GuardConfig {
	return GuardConfig{
		Name:         name,
		Timeout:      timeout,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		OpenTimeout:  15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// GuardedRegistry wraps a SessionRegistry with a per-call timeout and a
// circuit breaker. Backend failures surface as core.ErrRegistryUnavailable.
type GuardedRegistry struct {
	next    ports.SessionRegistry
	breaker *gobreaker.CircuitBreaker[any]
	timeout time.Duration
	name    string
}

var _ ports.SessionRegistry = (*GuardedRegistry)(nil)

// NewGuardedRegistry wraps next with the given guard settings
func NewGuardedRegistry(next ports.SessionRegistry, cfg GuardConfig, logger *slog.Logger) *GuardedRegistry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, core.ErrSessionNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("registry breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			metrics.RegistryBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	metrics.RegistryBreakerState.WithLabelValues(cfg.Name).Set(0)

	return &GuardedRegistry{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		timeout: cfg.Timeout,
		name:    cfg.Name,
	}
}

// State returns the current breaker state
func (g *GuardedRegistry) State() gobreaker.State {
	return g.breaker.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func guard[T any](ctx context.Context, g *GuardedRegistry, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	res, err := g.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(callCtx)
	})

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, core.ErrSessionNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	metrics.RegistryCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %s: %v", core.ErrRegistryUnavailable, op, err)
	}

	out, _ := res.(T)
	return out, nil
}

// Create stores a new record
func (g *GuardedRegistry) Create(ctx context.Context, rec *core.SessionRecord) error {
	_, err := guard(ctx, g, "create", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.Create(ctx, rec)
	})
	return err
}

// FindByID loads a record by id
func (g *GuardedRegistry) FindByID(ctx context.Context, id string) (*core.SessionRecord, error) {
	return guard(ctx, g, "find_by_id", func(ctx context.Context) (*core.SessionRecord, error) {
		return g.next.FindByID(ctx, id)
	})
}

// MarkRevoked flips the revoked flag
func (g *GuardedRegistry) MarkRevoked(ctx context.Context, id string) (bool, error) {
	return guard(ctx, g, "mark_revoked", func(ctx context.Context) (bool, error) {
		return g.next.MarkRevoked(ctx, id)
	})
}

// RevokeAllByOwner revokes every active record of the owner
func (g *GuardedRegistry) RevokeAllByOwner(ctx context.Context, ownerID string) (int, error) {
	return guard(ctx, g, "revoke_all", func(ctx context.Context) (int, error) {
		return g.next.RevokeAllByOwner(ctx, ownerID)
	})
}

// DeleteExpired removes expired records
func (g *GuardedRegistry) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return guard(ctx, g, "delete_expired", func(ctx context.Context) (int, error) {
		return g.next.DeleteExpired(ctx, now)
	})
}

// ListActiveByOwner lists the owner's active records
func (g *GuardedRegistry) ListActiveByOwner(ctx context.Context, ownerID string, now time.Time) ([]core.SessionRecord, error) {
	return guard(ctx, g, "list_active", func(ctx context.Context) ([]core.SessionRecord, error) {
		return g.next.ListActiveByOwner(ctx, ownerID, now)
	})
}
