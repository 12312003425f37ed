package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/layer-3/turnstile/core"
	"github.com/layer-3/turnstile/service"
)

// RouterConfig carries the router dependencies
type RouterConfig struct {
	AuthService    *service.AuthService
	LoginLimit     LoginLimit
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	// When empty the client IP is always the peer address.
	TrustedProxies []string
	APIRPS         float64
	APIBurst       int
	Logger         *slog.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	useJSONFieldNames()

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Error("invalid trusted proxies, ignoring forwarded headers", slog.String("error", err.Error()))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(
		Recovery(logger),
		RequestLogger(logger),
		Metrics(),
		Throttle(cfg.APIRPS, cfg.APIBurst, logger),
	)

	handlers := NewAuthHandlers(cfg.AuthService)

	authenticated := gin.HandlersChain{Authenticate(cfg.AuthService)}
	ownerOrAdmin := chain(authenticated, RequireOwnerOrRole("ownerId", core.RoleAdmin))
	adminOnly := chain(authenticated, RequireRole(core.RoleAdmin))

	router.GET("/healthz", handlers.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/login", LoginRateLimit(cfg.LoginLimit, logger), handlers.Login)
		auth.GET("/me", chain(authenticated, handlers.Me)...)
	}

	// Token lifecycle routes
	tokens := router.Group("/tokens")
	{
		tokens.POST("/refresh", handlers.Refresh)
		tokens.POST("/logout", chain(authenticated, handlers.Logout)...)
		tokens.POST("/invalidate/:ownerId", chain(ownerOrAdmin, handlers.Invalidate)...)
		tokens.GET("/sessions/:ownerId", chain(ownerOrAdmin, handlers.Sessions)...)
		tokens.POST("/cleanup", chain(adminOnly, handlers.Cleanup)...)
	}

	return router
}

// chain appends the final handler to a copy of the middleware chain
func chain(mw gin.HandlersChain, h gin.HandlerFunc) gin.HandlersChain {
	out := make(gin.HandlersChain, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, h)
}
