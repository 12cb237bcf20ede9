package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string `env:"SERVER_ADDR" envDefault:"0.0.0.0"`
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`

	// Database
	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"25432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"egi_hub"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"egi-hub.db"`

	// JWT
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"egi-hub"`

	Federation      FederationConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
	SMTP            SMTPConfig
}

// FederationConfig holds aggregation policy.
type FederationConfig struct {
	InvitationExpiry      time.Duration `env:"INVITATION_EXPIRY" envDefault:"720h"`
	MembersCanInvite      bool          `env:"MEMBERS_CAN_INVITE" envDefault:"true"`
	AggregationMaxMembers int           `env:"AGGREGATION_MAX_MEMBERS" envDefault:"0"`
	ExpirySweepInterval   time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"1h"`
}

// RateLimitConfig holds per-IP rate limits for the HTTP surface.
type RateLimitConfig struct {
	Enabled                bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerMinute      int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"120"`
	WriteRequestsPerMinute int  `env:"RATE_LIMIT_WRITE_REQUESTS_PER_MINUTE" envDefault:"30"`
}

// SecurityHeadersConfig holds the response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool   `env:"SECURITY_HEADERS_ENABLED" envDefault:"true"`
	CSP                string `env:"SECURITY_CSP" envDefault:"default-src 'none'; frame-ancestors 'none'"`
	HSTSMaxAge         int    `env:"SECURITY_HSTS_MAX_AGE" envDefault:"0"`
	FrameOptions       string `env:"SECURITY_FRAME_OPTIONS" envDefault:"DENY"`
	ContentTypeOptions string `env:"SECURITY_CONTENT_TYPE_OPTIONS" envDefault:"nosniff"`
	ReferrerPolicy     string `env:"SECURITY_REFERRER_POLICY" envDefault:"no-referrer"`
}

// ValidationConfig holds request validation limits.
type ValidationConfig struct {
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"65536"`
}

// SMTPConfig holds the outgoing mail server. Invitation emails are sent
// only when Host is set.
type SMTPConfig struct {
	Host     string        `env:"SMTP_HOST"`
	Port     int           `env:"SMTP_PORT" envDefault:"587"`
	User     string        `env:"SMTP_USER"`
	Password string        `env:"SMTP_PASSWORD"`
	From     string        `env:"SMTP_FROM" envDefault:"noreply@florenceegi.com"`
	FromName string        `env:"SMTP_FROM_NAME" envDefault:"EGI Hub"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"`
}

const minJWTSecretLength = 32

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}

	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	if c.Federation.InvitationExpiry <= 0 {
		return fmt.Errorf("INVITATION_EXPIRY must be positive")
	}
	if c.Federation.AggregationMaxMembers < 0 {
		return fmt.Errorf("AGGREGATION_MAX_MEMBERS must not be negative")
	}
	if c.Federation.ExpirySweepInterval <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive")
	}
	if c.Validation.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be positive")
	}
	return nil
}

// HasSMTP returns true if invitation emails can be sent.
func (c *Config) HasSMTP() bool {
	return c.SMTP.Host != ""
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}
