// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :4000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the optional gRPC listener (health service). Empty disables gRPC.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs the server on the in-memory store (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTSecret signs access tokens (HS256). Required.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// RefreshTokenSecret signs refresh-token envelopes (HS256). Required and distinct from JWTSecret.
	RefreshTokenSecret string `mapstructure:"REFRESH_TOKEN_SECRET"`
	// JWTIssuer is the iss claim on both token classes.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on both token classes.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// Argon2MemoryKiB is the Argon2id memory cost in KiB. Verify rejects stored digests whose
	// memory cost is more than twice this value, so lowering it below half of what existing
	// digests were made with locks out every password and refresh token hashed before the change.
	Argon2MemoryKiB uint32 `mapstructure:"ARGON2_MEMORY_KIB"`
	// Argon2Iterations is the Argon2id time cost. The same halving limit as Argon2MemoryKiB applies.
	Argon2Iterations uint32 `mapstructure:"ARGON2_ITERATIONS"`
	// Argon2Parallelism is the Argon2id lane count (1 to 255).
	Argon2Parallelism uint8 `mapstructure:"ARGON2_PARALLELISM"`
	// TOTPIssuer is the issuer label shown by authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`
	// RefreshCookieName is the name of the HTTP-only refresh cookie.
	RefreshCookieName string `mapstructure:"REFRESH_COOKIE_NAME"`
	// RefreshCookiePath scopes the refresh cookie to the auth routes.
	RefreshCookiePath string `mapstructure:"REFRESH_COOKIE_PATH"`
	// RedisURL enables the TOTP single-use guard when set (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// ResetTokenReturnToClient when true returns password-reset tokens in the HTTP response
	// (dev mode without email delivery). Must not be true when Env is production.
	ResetTokenReturnToClient bool `mapstructure:"RESET_TOKEN_RETURN_TO_CLIENT"`
	// ResetWebhookURL receives password-reset tokens for delivery (e.g. a mailer). Empty disables delivery.
	ResetWebhookURL string `mapstructure:"RESET_WEBHOOK_URL"`
	// ResetWebhookToken is sent as a Bearer token to ResetWebhookURL.
	ResetWebhookToken string `mapstructure:"RESET_WEBHOOK_TOKEN"`
	// OTLPEndpoint is the OpenTelemetry collector endpoint. Empty installs no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext gRPC to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// RequestTimeout bounds each HTTP request (e.g. "10s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":4000")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("REFRESH_TOKEN_SECRET", "")
	v.SetDefault("JWT_ISSUER", "saas-admin-auth")
	v.SetDefault("JWT_AUDIENCE", "saas-admin-api")
	v.SetDefault("ARGON2_MEMORY_KIB", 64*1024)
	v.SetDefault("ARGON2_ITERATIONS", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)
	v.SetDefault("TOTP_ISSUER", "SaaS Admin")
	v.SetDefault("REFRESH_COOKIE_NAME", "saas_refresh")
	v.SetDefault("REFRESH_COOKIE_PATH", "/auth")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("RESET_TOKEN_RETURN_TO_CLIENT", false)
	v.SetDefault("RESET_WEBHOOK_URL", "")
	v.SetDefault("RESET_WEBHOOK_TOKEN", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("REQUEST_TIMEOUT", "10s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" || strings.TrimSpace(cfg.RefreshTokenSecret) == "" {
		return nil, errors.New("config: JWT_SECRET and REFRESH_TOKEN_SECRET must be set")
	}
	if cfg.JWTSecret == cfg.RefreshTokenSecret {
		return nil, errors.New("config: JWT_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if cfg.ResetTokenReturnToClient && cfg.IsProduction() {
		return nil, errors.New("config: RESET_TOKEN_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.ResetWebhookURL != "" && !strings.HasPrefix(cfg.ResetWebhookURL, "http://") && !strings.HasPrefix(cfg.ResetWebhookURL, "https://") {
		return nil, errors.New("config: RESET_WEBHOOK_URL must be an http(s) URL")
	}
	if cfg.Argon2MemoryKiB < 8*1024 {
		return nil, errors.New("config: ARGON2_MEMORY_KIB must be at least 8192")
	}
	if cfg.Argon2Iterations == 0 {
		return nil, errors.New("config: ARGON2_ITERATIONS must be positive")
	}
	if cfg.Argon2Parallelism == 0 {
		cfg.Argon2Parallelism = 1
	}
	if !strings.HasPrefix(cfg.RefreshCookiePath, "/") {
		return nil, errors.New("config: REFRESH_COOKIE_PATH must start with /")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production. Controls the Secure cookie flag.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// Timeout parses RequestTimeout. Returns 10s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
