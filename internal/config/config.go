// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// OTP store backends selectable with OTP_STORE.
const (
	OTPStoreMemory   = "memory"
	OTPStorePostgres = "postgres"
	OTPStoreRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server (e.g. :9090). Empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Every command needs it.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL; required when OTPStore is "redis".
	RedisURL string `mapstructure:"REDIS_URL"`
	// OTPStore selects where OTP records live: postgres (default), redis or memory.
	// memory keeps codes in one process and is only suitable for a single replica.
	OTPStore string `mapstructure:"OTP_STORE"`

	// JWTPrivateKey is the PEM-encoded private key (RSA, ECDSA or Ed25519) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file. Derived from the private key when empty.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "feed-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "feed-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTTokenTTL is the access token lifetime (e.g. "24h").
	JWTTokenTTL string `mapstructure:"TOKEN_TTL"`
	// JWTRecoveryTTL is the lifetime of recovery tokens minted from an OTP (e.g. "15m").
	JWTRecoveryTTL string `mapstructure:"RECOVERY_TOKEN_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTPCodeLength is the number of digits in a one-time code (4–10).
	OTPCodeLength int `mapstructure:"OTP_CODE_LENGTH"`
	// OTPWindowRaw is how long a code stays valid (e.g. "10m").
	OTPWindowRaw string `mapstructure:"OTP_WINDOW"`
	// OTPMaxAttempts is how many wrong codes lock a record.
	OTPMaxAttempts int `mapstructure:"OTP_MAX_ATTEMPTS"`
	// OTPPurgeSchedule is the cron spec for purging expired OTP records.
	OTPPurgeSchedule string `mapstructure:"OTP_PURGE_SCHEDULE"`
	// OTPReturnToClient when true enables dev OTP mode: no email, codes captured for GET /dev/otp.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`

	// EmailAPIURL is the transactional email endpoint used to deliver codes.
	EmailAPIURL string `mapstructure:"EMAIL_API_URL"`
	// EmailAPIKey is the bearer key for EmailAPIURL.
	EmailAPIKey string `mapstructure:"EMAIL_API_KEY"`
	// EmailFrom is the sender address.
	EmailFrom string `mapstructure:"EMAIL_FROM"`

	// RecoveryRatePerMinute bounds recovery requests per client IP.
	RecoveryRatePerMinute int `mapstructure:"RATE_LIMIT_RECOVERY_PER_MINUTE"`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP. Enable only
	// behind a proxy that overwrites those headers; otherwise the socket address is used.
	TrustProxyHeaders bool `mapstructure:"TRUST_PROXY_HEADERS"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure disables TLS for the OTLP exporter.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
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
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("OTP_STORE", OTPStorePostgres)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "feed-auth")
	v.SetDefault("JWT_AUDIENCE", "feed-api")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("RECOVERY_TOKEN_TTL", "15m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTP_CODE_LENGTH", 6)
	v.SetDefault("OTP_WINDOW", "10m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_PURGE_SCHEDULE", "@every 15m")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("EMAIL_API_URL", "")
	v.SetDefault("EMAIL_API_KEY", "")
	v.SetDefault("EMAIL_FROM", "no-reply@feed.local")
	v.SetDefault("RATE_LIMIT_RECOVERY_PER_MINUTE", 5)
	v.SetDefault("TRUST_PROXY_HEADERS", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

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
	if c.OTPReturnToClient && c.Env == "production" {
		return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.OTPCodeLength < 4 || c.OTPCodeLength > 10 {
		return errors.New("config: OTP_CODE_LENGTH must be between 4 and 10")
	}
	if c.OTPMaxAttempts < 1 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be at least 1")
	}
	switch c.OTPStore {
	case OTPStoreMemory:
	case OTPStorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when OTP_STORE=postgres")
		}
	case OTPStoreRedis:
		if c.RedisURL == "" {
			return errors.New("config: REDIS_URL must be set when OTP_STORE=redis")
		}
	default:
		return fmt.Errorf("config: unknown OTP_STORE %q", c.OTPStore)
	}
	if c.RecoveryRatePerMinute <= 0 {
		return errors.New("config: RATE_LIMIT_RECOVERY_PER_MINUTE must be positive")
	}
	return nil
}

// TokenTTL parses JWTTokenTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	return parseDuration(c.JWTTokenTTL, 24*time.Hour)
}

// RecoveryTTL parses JWTRecoveryTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) RecoveryTTL() time.Duration {
	return parseDuration(c.JWTRecoveryTTL, 15*time.Minute)
}

// OTPWindow parses OTPWindowRaw as a time.Duration. Returns 10m if unset or invalid.
func (c *Config) OTPWindow() time.Duration {
	return parseDuration(c.OTPWindowRaw, 10*time.Minute)
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
