package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/turnstile/adapters/events"
	"github.com/layer-3/turnstile/adapters/limiter"
	"github.com/layer-3/turnstile/adapters/store"
	"github.com/layer-3/turnstile/config"
	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/ports"
	"github.com/layer-3/turnstile/security"
)

const badgerGCInterval = 5 * time.Minute

// dependencies holds the backends selected by configuration
type dependencies struct {
	registry   ports.SessionRegistry
	identities ports.IdentityStore
	counter    ports.AttemptCounter
	events     ports.EventPublisher

	memoryIdentities *store.MemoryIdentityStore

	closers []func() error
}

func (d *dependencies) close(logger *slog.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Error("close dependency", slog.String("error", err.Error()))
		}
	}
}

func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, error) {
	deps := &dependencies{}

	var rdb redis.UniversalClient
	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rdb = client
		deps.closers = append(deps.closers, client.Close)
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pool = p
		deps.closers = append(deps.closers, func() error { p.Close(); return nil })
	}

	var registry ports.SessionRegistry
	switch cfg.RegistryDriver {
	case config.DriverRedis:
		registry = store.NewRedisRegistry(rdb)
	case config.DriverPostgres:
		registry = store.NewPostgresRegistry(pool)
	case config.DriverBadger:
		db, err := store.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		deps.closers = append(deps.closers, db.Close)
		registry = store.NewBadgerRegistry(db)
		go badgerGC(ctx, db, logger)
	default:
		registry = store.NewMemoryRegistry()
	}
	deps.registry = store.NewGuardedRegistry(registry,
		store.DefaultGuardConfig(cfg.RegistryDriver, cfg.RegistryTimeout), logger)

	if pool != nil {
		deps.identities = store.NewPostgresIdentityStore(pool)
	} else {
		mem, err := store.NewMemoryIdentityStore()
		if err != nil {
			return nil, err
		}
		deps.memoryIdentities = mem
		deps.identities = mem
	}

	if rdb != nil {
		deps.counter = limiter.NewRedisCounter(rdb, "")
	} else {
		deps.counter = limiter.NewMemoryCounter()
	}

	switch cfg.EventsDriver {
	case config.DriverMemory, config.DriverRedis:
		pub, err := events.NewMessagePublisher(cfg.EventsDriver, rdb)
		if err != nil {
			return nil, err
		}
		wp := events.NewWatermillPublisher(pub)
		deps.closers = append(deps.closers, wp.Close)
		deps.events = wp
	default:
		deps.events = events.NoopPublisher{}
	}

	return deps, nil
}

// bootstrapAdmin seeds an admin into the in-memory identity store
func bootstrapAdmin(ctx context.Context, cfg *config.Config, verifier *security.Verifier, deps *dependencies, logger *slog.Logger) error {
	if cfg.BootstrapAdminIdentifier == "" {
		return nil
	}
	if deps.memoryIdentities == nil {
		logger.Warn("bootstrap admin ignored with a database identity store; use cmd/seed")
		return nil
	}

	hash, err := verifier.Hash(cfg.BootstrapAdminSecret)
	if err != nil {
		return fmt.Errorf("hash bootstrap secret: %w", err)
	}

	err = deps.memoryIdentities.Add(core.Identity{
		ID:         uuid.NewString(),
		Identifier: cfg.BootstrapAdminIdentifier,
		SecretHash: hash.Hash,
		Role:       core.RoleAdmin,
		Active:     true,
	})
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	logger.InfoContext(ctx, "bootstrap admin created", slog.String("identifier", core.NormalizeIdentifier(cfg.BootstrapAdminIdentifier)))
	return nil
}

// badgerGC reclaims value log space until ctx is done
func badgerGC(ctx context.Context, db *badger.DB, logger *slog.Logger) {
	if db.Opts().InMemory {
		return
	}

	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := db.RunValueLogGC(0.5)
				if errors.Is(err, badger.ErrNoRewrite) {
					break
				}
				if err != nil {
					logger.Warn("badger value log gc failed", slog.String("error", err.Error()))
					break
				}
			}
		}
	}
}
