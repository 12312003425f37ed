// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Registry and event drivers
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverNone     = "none"

	minSecretLen = 32
)

// Config holds service configuration loaded from the environment
type Config struct {
	// HTTPAddr is the listen address of the API server
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment ("development", "production")
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"LOG_LEVEL"`

	TokenIssuer        string        `mapstructure:"TOKEN_ISSUER"`
	AccessTokenSecret  string        `mapstructure:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string        `mapstructure:"REFRESH_TOKEN_SECRET"`
	AccessTTL          time.Duration `mapstructure:"ACCESS_TTL"`
	RefreshTTL         time.Duration `mapstructure:"REFRESH_TTL"`
	// TokenLeeway is the clock skew tolerated when checking expiry
	TokenLeeway time.Duration `mapstructure:"TOKEN_LEEWAY"`

	// BcryptCost is the bcrypt work factor (4-31)
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// VerifyFloor is the minimum duration of one credential verification
	VerifyFloor time.Duration `mapstructure:"VERIFY_FLOOR"`

	LoginRateLimitMax    int           `mapstructure:"LOGIN_RATE_LIMIT_MAX"`
	LoginRateLimitWindow time.Duration `mapstructure:"LOGIN_RATE_LIMIT_WINDOW"`
	// TrustedProxies is a comma-separated list of proxy IPs or CIDRs whose
	// X-Forwarded-For is honoured; empty means only the peer address counts
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// APIRPS and APIBurst configure the per-IP throttle; 0 disables it
	APIRPS   float64 `mapstructure:"API_RPS"`
	APIBurst int     `mapstructure:"API_BURST"`

	// RegistryDriver selects the session registry backend
	RegistryDriver  string        `mapstructure:"REGISTRY_DRIVER"`
	RegistryTimeout time.Duration `mapstructure:"REGISTRY_TIMEOUT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	// BadgerPath is the badger data directory; empty runs in memory
	BadgerPath string `mapstructure:"BADGER_PATH"`

	JanitorInterval time.Duration `mapstructure:"JANITOR_INTERVAL"`

	// EventsDriver selects where session events go
	EventsDriver string `mapstructure:"EVENTS_DRIVER"`

	OTelEnabled  bool   `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Bootstrap admin for the in-memory identity store
	BootstrapAdminIdentifier string `mapstructure:"BOOTSTRAP_ADMIN_IDENTIFIER"`
	BootstrapAdminSecret     string `mapstructure:"BOOTSTRAP_ADMIN_SECRET"`
}

// Load reads .env (if present), then builds and validates Config from the environment.
// Env vars override .env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.RegistryDriver = strings.ToLower(strings.TrimSpace(cfg.RegistryDriver))
	cfg.EventsDriver = strings.ToLower(strings.TrimSpace(cfg.EventsDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TOKEN_ISSUER", "turnstile")
	v.SetDefault("ACCESS_TOKEN_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h")
	v.SetDefault("TOKEN_LEEWAY", "0s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("VERIFY_FLOOR", "100ms")
	v.SetDefault("LOGIN_RATE_LIMIT_MAX", 5)
	v.SetDefault("LOGIN_RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("API_RPS", 0)
	v.SetDefault("API_BURST", 20)
	v.SetDefault("REGISTRY_DRIVER", DriverMemory)
	v.SetDefault("REGISTRY_TIMEOUT", "2s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("BADGER_PATH", "")
	v.SetDefault("JANITOR_INTERVAL", "1h")
	v.SetDefault("EVENTS_DRIVER", DriverNone)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("BOOTSTRAP_ADMIN_IDENTIFIER", "")
	v.SetDefault("BOOTSTRAP_ADMIN_SECRET", "")
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(c.AccessTokenSecret) < minSecretLen {
		return fmt.Errorf("config: ACCESS_TOKEN_SECRET must be at least %d bytes", minSecretLen)
	}
	if len(c.RefreshTokenSecret) < minSecretLen {
		return fmt.Errorf("config: REFRESH_TOKEN_SECRET must be at least %d bytes", minSecretLen)
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("config: ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: ACCESS_TTL and REFRESH_TTL must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("config: REFRESH_TTL must be longer than ACCESS_TTL")
	}
	if c.TokenLeeway < 0 || c.VerifyFloor < 0 {
		return errors.New("config: TOKEN_LEEWAY and VERIFY_FLOOR must not be negative")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.LoginRateLimitMax < 0 {
		return errors.New("config: LOGIN_RATE_LIMIT_MAX must not be negative")
	}
	if c.LoginRateLimitMax > 0 && c.LoginRateLimitWindow <= 0 {
		return errors.New("config: LOGIN_RATE_LIMIT_WINDOW must be positive")
	}
	if c.APIRPS < 0 || c.APIBurst < 0 {
		return errors.New("config: API_RPS and API_BURST must not be negative")
	}
	for _, p := range c.TrustedProxyList() {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("config: TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
			}
		}
	}
	if c.RegistryTimeout <= 0 {
		return errors.New("config: REGISTRY_TIMEOUT must be positive")
	}

	switch c.RegistryDriver {
	case DriverMemory, DriverBadger:
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when REGISTRY_DRIVER=redis")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when REGISTRY_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: unknown REGISTRY_DRIVER %q", c.RegistryDriver)
	}

	switch c.EventsDriver {
	case DriverNone, DriverMemory:
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when EVENTS_DRIVER=redis")
		}
	default:
		return fmt.Errorf("config: unknown EVENTS_DRIVER %q", c.EventsDriver)
	}

	if (c.BootstrapAdminIdentifier == "") != (c.BootstrapAdminSecret == "") {
		return errors.New("config: BOOTSTRAP_ADMIN_IDENTIFIER and BOOTSTRAP_ADMIN_SECRET must be set together")
	}
	if c.IsProduction() && c.BootstrapAdminSecret != "" {
		return errors.New("config: BOOTSTRAP_ADMIN_SECRET must not be set when APP_ENV=production")
	}

	return nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// TrustedProxyList returns the trusted proxies from the comma-separated config
func (c *Config) TrustedProxyList() []string {
	if c == nil || c.TrustedProxies == "" {
		return nil
	}
	parts := strings.Split(c.TrustedProxies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NeedsRedis reports whether any component is backed by Redis
func (c *Config) NeedsRedis() bool {
	return c.RegistryDriver == DriverRedis || c.EventsDriver == DriverRedis
}

// LoadDatabaseURL reads only DATABASE_URL, for tools that do not serve traffic
func LoadDatabaseURL() (string, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	dsn := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if dsn == "" {
		return "", errors.New("config: DATABASE_URL must be set")
	}
	return dsn, nil
}
