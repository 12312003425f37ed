package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/layer-3/turnstile/adapters/tokenizer"
	"github.com/layer-3/turnstile/config"
	"github.com/layer-3/turnstile/logging"
	"github.com/layer-3/turnstile/security"
	"github.com/layer-3/turnstile/service"
	"github.com/layer-3/turnstile/telemetry"
	transport "github.com/layer-3/turnstile/transport/http"
)

const (
	serviceName     = "turnstile"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting turnstile",
		slog.String("environment", cfg.Env),
		slog.String("addr", cfg.HTTPAddr),
		slog.String("registry", cfg.RegistryDriver),
		slog.String("events", cfg.EventsDriver),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTelEndpoint,
		Enabled:      cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	deps, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	tok, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		Issuer:     cfg.TokenIssuer,
		AccessKey:  []byte(cfg.AccessTokenSecret),
		RefreshKey: []byte(cfg.RefreshTokenSecret),
		Leeway:     cfg.TokenLeeway,
	})
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}

	verifier, err := security.NewVerifier(cfg.BcryptCost, cfg.VerifyFloor)
	if err != nil {
		return fmt.Errorf("init verifier: %w", err)
	}

	if err := bootstrapAdmin(ctx, cfg, verifier, deps, logger); err != nil {
		return err
	}

	authService := service.NewAuthService(service.Config{
		AccessTTL:       cfg.AccessTTL,
		RefreshTTL:      cfg.RefreshTTL,
		JanitorInterval: cfg.JanitorInterval,
	}, verifier, deps.identities, tok, deps.registry,
		service.WithLogger(logger),
		service.WithEvents(deps.events),
	)

	go authService.Janitor().Run(ctx)

	router := transport.SetupRouter(transport.RouterConfig{
		AuthService: authService,
		LoginLimit: transport.LoginLimit{
			Counter:     deps.counter,
			MaxAttempts: cfg.LoginRateLimitMax,
			Window:      cfg.LoginRateLimitWindow,
		},
		TrustedProxies: cfg.TrustedProxyList(),
		APIRPS:         cfg.APIRPS,
		APIBurst:       cfg.APIBurst,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("turnstile stopped")
	return nil
}
