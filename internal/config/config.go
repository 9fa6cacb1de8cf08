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
	// DatabaseURL is the Postgres DSN; required for anything that touches the relational store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the shared cache address (host:port). The revocation cache, brute-force
	// counters, and forced-reauth flags live there; empty means the in-memory store (dev/tests only).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional shared cache password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database number.
	RedisDB int `mapstructure:"REDIS_DB"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "dte-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "dte-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTTLRaw is the refresh credential lifetime (e.g. "720h").
	RefreshTTLRaw string `mapstructure:"REFRESH_TTL"`
	// SessionTTLRaw is the device session lifetime (e.g. "720h"). Sessions stop
	// renewing tokens past this horizon regardless of activity.
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// LockoutThreshold is the failed-attempt count that triggers a durable account lock.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutWindowRaw is the sliding window for counting failures (e.g. "15m").
	LockoutWindowRaw string `mapstructure:"LOCKOUT_WINDOW"`
	// LockoutDurationRaw is how long a triggered lock lasts (e.g. "30m").
	LockoutDurationRaw string `mapstructure:"LOCKOUT_DURATION"`
	// ApprovalTTLRaw is the device approval request lifetime (e.g. "10m").
	ApprovalTTLRaw string `mapstructure:"APPROVAL_TTL"`
	// CaptchaFailureThreshold is the per-device approval failure count after which CAPTCHA is required.
	CaptchaFailureThreshold int `mapstructure:"CAPTCHA_FAILURE_THRESHOLD"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Telemetry (optional). When Kafka brokers are set, services emit security events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for security events (default dte-security-events).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// OTLPEndpoint is the OTLP gRPC endpoint for traces/metrics/logs (e.g. http://localhost:4317); empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`

	// Worker-only: sweep interval for expiring approval requests and stale sessions.
	WorkerSweepIntervalRaw string `mapstructure:"WORKER_SWEEP_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_ISSUER", "dte-auth")
	v.SetDefault("JWT_AUDIENCE", "dte-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "720h") // 30d
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_WINDOW", "15m")
	v.SetDefault("LOCKOUT_DURATION", "30m")
	v.SetDefault("APPROVAL_TTL", "10m")
	v.SetDefault("CAPTCHA_FAILURE_THRESHOLD", 3)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "dte-security-events")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("WORKER_SWEEP_INTERVAL", "1m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LockoutThreshold < 1 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be at least 1")
	}
	if cfg.CaptchaFailureThreshold < 1 {
		return nil, errors.New("config: CAPTCHA_FAILURE_THRESHOLD must be at least 1")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses RefreshTTLRaw as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.RefreshTTLRaw, 720*time.Hour)
}

// IsProduction reports whether APP_ENV selects the production environment.
// Production deployments must use the shared Redis cache: the in-memory
// fallback is per-process, and revocations or lockouts recorded in one
// process would be invisible to the others.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SessionTTL parses SessionTTLRaw. Returns 720h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.SessionTTLRaw, 720*time.Hour)
}

// LockoutWindow parses LockoutWindowRaw. Returns 15m if unset or invalid.
func (c *Config) LockoutWindow() time.Duration {
	return parseDuration(c.LockoutWindowRaw, 15*time.Minute)
}

// LockoutDuration parses LockoutDurationRaw. Returns 30m if unset or invalid.
func (c *Config) LockoutDuration() time.Duration {
	return parseDuration(c.LockoutDurationRaw, 30*time.Minute)
}

// ApprovalTTL parses ApprovalTTLRaw. Returns 10m if unset or invalid.
func (c *Config) ApprovalTTL() time.Duration {
	return parseDuration(c.ApprovalTTLRaw, 10*time.Minute)
}

// WorkerSweepInterval parses WorkerSweepIntervalRaw. Returns 1m if unset or invalid.
func (c *Config) WorkerSweepInterval() time.Duration {
	return parseDuration(c.WorkerSweepIntervalRaw, time.Minute)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
