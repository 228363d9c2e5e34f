// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"helpdesk-auth/backend/internal/security"
)

// EnvProduction is the APP_ENV value that enables production checks.
const EnvProduction = "production"

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// SessionSecret signs bearer proofs: inline or "file:/path". Required in production.
	SessionSecret string `mapstructure:"SESSION_SECRET"`
	// SessionIssuer is the iss claim of bearer proofs.
	SessionIssuer string `mapstructure:"SESSION_ISSUER"`
	// SessionAudience is the aud claim of bearer proofs.
	SessionAudience string `mapstructure:"SESSION_AUDIENCE"`
	// SessionTTLRaw is the session lifetime (e.g. "24h").
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// ProofTTLRaw is the bearer proof lifetime and so the revocation exposure window (e.g. "5m").
	ProofTTLRaw string `mapstructure:"PROOF_TTL"`
	// CacheTTLRaw is how long a validation cache entry is trusted (e.g. "30s").
	CacheTTLRaw string `mapstructure:"CACHE_TTL"`
	// CacheSize bounds the validation cache entry count.
	CacheSize int `mapstructure:"CACHE_SIZE"`
	// StoreTimeoutRaw bounds each store call made while validating (e.g. "2s").
	StoreTimeoutRaw string `mapstructure:"STORE_TIMEOUT"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// CleanupSchedule is the cron spec for expired session cleanup.
	CleanupSchedule string `mapstructure:"CLEANUP_SCHEDULE"`
	// CleanupInProcess runs the cleanup job inside the server; disable when cmd/worker runs it.
	CleanupInProcess bool `mapstructure:"CLEANUP_IN_PROCESS"`

	// RedisURL enables cross-instance cache invalidation when set (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// InvalidationChannel is the pub/sub channel for invalidation events.
	InvalidationChannel string `mapstructure:"INVALIDATION_CHANNEL"`

	// CookieSecure sets the Secure attribute on issued cookies.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// LogLevel is a logrus level name.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTLPEndpoint enables OTLP export of traces, metrics and logs when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OpenTelemetry service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("SESSION_ISSUER", "helpdesk-auth")
	v.SetDefault("SESSION_AUDIENCE", "helpdesk-web")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("PROOF_TTL", "5m")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("CACHE_SIZE", 10000)
	v.SetDefault("STORE_TIMEOUT", "2s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CLEANUP_SCHEDULE", "@every 15m")
	v.SetDefault("CLEANUP_IN_PROCESS", true)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("INVALIDATION_CHANNEL", "helpdesk:session-invalidation")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "helpdesk-auth")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.CacheSize <= 0 {
		return errors.New("config: CACHE_SIZE must be positive")
	}
	for key, raw := range map[string]string{
		"SESSION_TTL":   c.SessionTTLRaw,
		"PROOF_TTL":     c.ProofTTLRaw,
		"CACHE_TTL":     c.CacheTTLRaw,
		"STORE_TIMEOUT": c.StoreTimeoutRaw,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration", key)
		}
	}
	if c.ProofTTL() >= c.SessionTTL() {
		return errors.New("config: PROOF_TTL must be shorter than SESSION_TTL")
	}
	if c.CacheTTL() >= c.SessionTTL() {
		return errors.New("config: CACHE_TTL must be shorter than SESSION_TTL")
	}
	if c.IsProduction() && strings.TrimSpace(c.SessionSecret) == "" {
		return errors.New("config: SESSION_SECRET must be set when APP_ENV=production")
	}
	if c.SessionSecret != "" {
		if _, err := security.LoadSecret(c.SessionSecret); err != nil {
			return fmt.Errorf("config: SESSION_SECRET must be at least %d bytes: %w", security.MinSecretBytes, err)
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// SigningSecret returns the configured proof secret. Outside production an unset secret
// yields a random one and ephemeral is true.
func (c *Config) SigningSecret() (secret []byte, ephemeral bool, err error) {
	if c.SessionSecret == "" {
		if c.IsProduction() {
			return nil, false, security.ErrInvalidSecret
		}
		secret, err = security.EphemeralSecret()
		return secret, true, err
	}
	secret, err = security.LoadSecret(c.SessionSecret)
	return secret, false, err
}

// SessionTTL parses SessionTTLRaw. Returns 24h if unset or invalid.
func (c *Config) SessionTTL() time.Duration { return parseDuration(c.SessionTTLRaw, 24*time.Hour) }

// ProofTTL parses ProofTTLRaw. Returns 5m if unset or invalid.
func (c *Config) ProofTTL() time.Duration { return parseDuration(c.ProofTTLRaw, 5*time.Minute) }

// CacheTTL parses CacheTTLRaw. Returns 30s if unset or invalid.
func (c *Config) CacheTTL() time.Duration { return parseDuration(c.CacheTTLRaw, 30*time.Second) }

// StoreTimeout parses StoreTimeoutRaw. Returns 2s if unset or invalid.
func (c *Config) StoreTimeout() time.Duration { return parseDuration(c.StoreTimeoutRaw, 2*time.Second) }

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
