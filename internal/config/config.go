// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server (login, session, password flows) listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// OpsGRPCAddr is the address of the gRPC health/reflection server. Empty disables it.
	OpsGRPCAddr string `mapstructure:"OPS_GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs on the in-memory store (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MigrateOnStart applies embedded migrations before serving.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file used to sign session claims.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`

	// SessionCookieTTL is the sliding lifetime of the signed claim cookie (e.g. "1m").
	SessionCookieTTL string `mapstructure:"SESSION_COOKIE_TTL"`
	// SessionIdleTimeout is the server-side session store idle expiry (e.g. "60s").
	SessionIdleTimeout string `mapstructure:"SESSION_IDLE_TIMEOUT"`
	// SessionStore selects the server-side session store: "memory" or "postgres".
	SessionStore string `mapstructure:"SESSION_STORE"`
	// CookieSecure sets the Secure attribute on session cookies.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	LockoutMaxFailedAttempts int    `mapstructure:"LOCKOUT_MAX_FAILED_ATTEMPTS"`
	LockoutDuration          string `mapstructure:"LOCKOUT_DURATION"`

	// PasswordMinAgeMinutes is the minimum age before a password may be changed again (>= 0).
	PasswordMinAgeMinutes int `mapstructure:"PASSWORD_MIN_AGE_MINUTES"`
	// PasswordMaxAgeDays is the days-based maximum age (> 0).
	PasswordMaxAgeDays int `mapstructure:"PASSWORD_MAX_AGE_DAYS"`
	// PasswordMaxAgeMinutes overrides PasswordMaxAgeDays when > 0.
	PasswordMaxAgeMinutes int `mapstructure:"PASSWORD_MAX_AGE_MINUTES"`
	// PasswordHistoryCount is how many previous password hashes are retained and checked (> 0).
	PasswordHistoryCount int `mapstructure:"PASSWORD_HISTORY_COUNT"`
	// PasswordResetTTL is the lifetime of a password reset token (e.g. "24h").
	PasswordResetTTL string `mapstructure:"PASSWORD_RESET_TTL"`

	// RecaptchaSecretKey is the reCAPTCHA v3 server secret. Required unless BotCheckDisabled.
	RecaptchaSecretKey string `mapstructure:"RECAPTCHA_SECRET_KEY"`
	RecaptchaVerifyURL string `mapstructure:"RECAPTCHA_VERIFY_URL"`
	// RecaptchaTimeout bounds the siteverify call; on timeout the login fails closed.
	RecaptchaTimeout string `mapstructure:"RECAPTCHA_TIMEOUT"`
	// BotCheckDisabled accepts every bot token. Must not be true when Env is production.
	BotCheckDisabled bool `mapstructure:"BOT_CHECK_DISABLED"`

	// PublicBaseURL is the externally visible origin used to build password reset links.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	// MailRelayURL is the HTTP relay reset links are sent through. Empty logs links instead
	// (refused in production).
	MailRelayURL    string `mapstructure:"MAIL_RELAY_URL"`
	MailRelayAPIKey string `mapstructure:"MAIL_RELAY_API_KEY"`
	MailFrom        string `mapstructure:"MAIL_FROM"`

	// LoginRatePerMinute is the per-client-IP request budget for login and reset endpoints. 0 disables.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	// TrustedProxies is a comma-separated list of proxy addresses or CIDRs whose
	// X-Forwarded-For and X-Real-IP headers set the client address. Empty trusts none.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// OTel (optional). Empty endpoint yields no-op providers.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// AuditKafkaBrokers is a comma-separated list of Kafka brokers; when set, audit events are mirrored to AuditKafkaTopic.
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic   string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// AuditFailureAlertThreshold is the number of consecutive audit write failures that raise a compliance alert log.
	AuditFailureAlertThreshold int `mapstructure:"AUDIT_FAILURE_ALERT_THRESHOLD"`
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
	v.SetDefault("OPS_GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "loginguard")
	v.SetDefault("JWT_AUDIENCE", "loginguard-web")
	v.SetDefault("SESSION_COOKIE_TTL", "1m")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "60s")
	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_MAX_FAILED_ATTEMPTS", 3)
	v.SetDefault("LOCKOUT_DURATION", "1m")
	v.SetDefault("PASSWORD_MIN_AGE_MINUTES", 1)
	v.SetDefault("PASSWORD_MAX_AGE_DAYS", 90)
	v.SetDefault("PASSWORD_MAX_AGE_MINUTES", 0)
	v.SetDefault("PASSWORD_HISTORY_COUNT", 2)
	v.SetDefault("PASSWORD_RESET_TTL", "24h")
	v.SetDefault("RECAPTCHA_SECRET_KEY", "")
	v.SetDefault("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("RECAPTCHA_TIMEOUT", "5s")
	v.SetDefault("BOT_CHECK_DISABLED", false)
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("MAIL_RELAY_URL", "")
	v.SetDefault("MAIL_RELAY_API_KEY", "")
	v.SetDefault("MAIL_FROM", "noreply@localhost")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 30)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "loginguard")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "loginguard-audit")
	v.SetDefault("AUDIT_FAILURE_ALERT_THRESHOLD", 5)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BotCheckDisabled && cfg.Env == "production" {
		return nil, errors.New("config: BOT_CHECK_DISABLED must not be true when APP_ENV=production")
	}
	if !cfg.BotCheckDisabled && cfg.RecaptchaSecretKey == "" {
		return nil, errors.New("config: RECAPTCHA_SECRET_KEY must be set unless BOT_CHECK_DISABLED=true")
	}
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if cfg.Env == "production" && cfg.MailRelayURL == "" {
		return nil, errors.New("config: MAIL_RELAY_URL must be set when APP_ENV=production")
	}
	if cfg.MailRelayURL != "" && cfg.MailRelayAPIKey == "" {
		return nil, errors.New("config: MAIL_RELAY_API_KEY must be set with MAIL_RELAY_URL")
	}
	switch cfg.SessionStore {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: SESSION_STORE=postgres requires DATABASE_URL")
		}
	default:
		return nil, errors.New("config: SESSION_STORE must be memory or postgres")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LockoutMaxFailedAttempts <= 0 {
		return nil, errors.New("config: LOCKOUT_MAX_FAILED_ATTEMPTS must be positive")
	}
	if cfg.PasswordMinAgeMinutes < 0 {
		return nil, errors.New("config: PASSWORD_MIN_AGE_MINUTES must not be negative")
	}
	if cfg.PasswordMaxAgeDays <= 0 {
		return nil, errors.New("config: PASSWORD_MAX_AGE_DAYS must be positive")
	}
	if cfg.PasswordMaxAgeMinutes < 0 {
		return nil, errors.New("config: PASSWORD_MAX_AGE_MINUTES must not be negative")
	}
	if cfg.PasswordHistoryCount <= 0 {
		return nil, errors.New("config: PASSWORD_HISTORY_COUNT must be positive")
	}
	for _, p := range cfg.TrustedProxiesList() {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return nil, fmt.Errorf("config: TRUSTED_PROXIES entry %q is not an address or CIDR", p)
		}
	}

	return &cfg, nil
}

// CookieTTL parses SessionCookieTTL. Returns 1m if unset or invalid.
func (c *Config) CookieTTL() time.Duration {
	return parseDuration(c.SessionCookieTTL, time.Minute)
}

// IdleTimeout parses SessionIdleTimeout. Returns 60s if unset or invalid.
func (c *Config) IdleTimeout() time.Duration {
	return parseDuration(c.SessionIdleTimeout, 60*time.Second)
}

// Lockout parses LockoutDuration. Returns 1m if unset or invalid.
func (c *Config) Lockout() time.Duration {
	return parseDuration(c.LockoutDuration, time.Minute)
}

// ResetTTL parses PasswordResetTTL. Returns 24h if unset or invalid.
func (c *Config) ResetTTL() time.Duration {
	return parseDuration(c.PasswordResetTTL, 24*time.Hour)
}

// BotCheckTimeout parses RecaptchaTimeout. Returns 5s if unset or invalid.
func (c *Config) BotCheckTimeout() time.Duration {
	return parseDuration(c.RecaptchaTimeout, 5*time.Second)
}

// AuditKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka audit sink.
func (c *Config) AuditKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AuditKafkaBrokers)
}

// TrustedProxiesList returns the trusted proxy entries from the comma-separated config.
func (c *Config) TrustedProxiesList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
