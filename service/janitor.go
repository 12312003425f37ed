package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/layer-3/turnstile/metrics"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/telemetry"
)

// SessionJanitor deletes session records past their expiry
type SessionJanitor struct {
	registry ports.SessionRegistry
	interval time.Duration

	options
}

// NewSessionJanitor creates a janitor that sweeps every interval when run
func NewSessionJanitor(registry ports.SessionRegistry, interval time.Duration, opts ...Option) *SessionJanitor {
	return &SessionJanitor{
		registry: registry,
		interval: interval,
		options:  newOptions(opts),
	}
}

// Sweep deletes every record with ExpiresAt before now, revoked or not
func (j *SessionJanitor) Sweep(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, end := telemetry.StartSpan(ctx, "sessions.sweep")
	defer func() { end(err) }()

	n, err := j.registry.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	metrics.SessionsSweptTotal.Add(float64(n))

	return n, nil
}

// Run sweeps on a ticker until ctx is done. Failed sweeps are logged and retried next tick.
func (j *SessionJanitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info("session janitor disabled")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("session janitor started", slog.Duration("interval", j.interval))
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session janitor stopped")
			return
		case <-ticker.C:
			n, err := j.Sweep(ctx, j.now())
			if err != nil {
				j.logger.ErrorContext(ctx, "session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				j.logger.InfoContext(ctx, "expired sessions deleted", slog.Int("count", n))
			}
		}
	}
}
