// Package config loads service configuration from the environment, with an
// optional YAML overlay for deployment-managed settings. Environment values
// come first; a file named by LANTERN_CONFIG_FILE overrides them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retention RetentionConfig `yaml:"retention"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig controls the API and ops listeners.
type ServerConfig struct {
	Host            string        `env:"LANTERN_SERVER_HOST,default=0.0.0.0" yaml:"host"`
	Port            int           `env:"LANTERN_SERVER_PORT,default=8080" yaml:"port"`
	OpsPort         int           `env:"LANTERN_OPS_PORT,default=9090" yaml:"ops_port"`
	ReadTimeout     time.Duration `env:"LANTERN_SERVER_READ_TIMEOUT,default=15s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"LANTERN_SERVER_WRITE_TIMEOUT,default=30s" yaml:"write_timeout"`
	IdleTimeout     time.Duration `env:"LANTERN_SERVER_IDLE_TIMEOUT,default=120s" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `env:"LANTERN_SERVER_SHUTDOWN_TIMEOUT,default=10s" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `env:"LANTERN_SERVER_MAX_BODY_BYTES,default=1048576" yaml:"max_body_bytes"`
}

// DatabaseConfig controls the Postgres connection pool. An empty DSN selects
// the in-memory stores, which is only meant for development and tests.
type DatabaseConfig struct {
	DSN             string `env:"DATABASE_URL" yaml:"dsn"`
	MaxOpenConns    int    `env:"LANTERN_DB_MAX_OPEN_CONNS,default=25" yaml:"max_open_conns"`
	MaxIdleConns    int    `env:"LANTERN_DB_MAX_IDLE_CONNS,default=5" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `env:"LANTERN_DB_CONN_MAX_LIFETIME,default=300" yaml:"conn_max_lifetime"`
}

// RedisConfig controls the pub/sub bus and session store. An empty Addr
// selects the in-memory implementations.
type RedisConfig struct {
	Addr     string `env:"LANTERN_REDIS_ADDR" yaml:"addr"`
	Password string `env:"LANTERN_REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"LANTERN_REDIS_DB,default=0" yaml:"db"`
}

// AuthConfig controls token verification and issuing.
type AuthConfig struct {
	LegacySecret       string        `env:"LANTERN_AUTH_LEGACY_SECRET" yaml:"legacy_secret"`
	TokenTTL           time.Duration `env:"LANTERN_AUTH_TOKEN_TTL,default=24h" yaml:"token_ttl"`
	SessionTTL         time.Duration `env:"LANTERN_AUTH_SESSION_TTL,default=720h" yaml:"session_ttl"`
	FirebaseProjectID  string        `env:"LANTERN_FIREBASE_PROJECT_ID" yaml:"firebase_project_id"`
	FirebaseCertURL    string        `env:"LANTERN_FIREBASE_CERT_URL" yaml:"firebase_cert_url"`
	FirebaseLookupURL  string        `env:"LANTERN_FIREBASE_LOOKUP_URL" yaml:"firebase_lookup_url"`
	FirebaseWebAPIKey  string        `env:"LANTERN_FIREBASE_WEB_API_KEY" yaml:"firebase_web_api_key"`
	UnsubscribeSecret  string        `env:"LANTERN_UNSUBSCRIBE_SECRET" yaml:"unsubscribe_secret"`
	UnsubscribeMaxAge  time.Duration `env:"LANTERN_UNSUBSCRIBE_MAX_AGE,default=720h" yaml:"unsubscribe_max_age"`
	AdminBootstrapUser string        `env:"LANTERN_ADMIN_EMAIL" yaml:"admin_bootstrap_user"`
	AdminBootstrapPass string        `env:"LANTERN_ADMIN_PASSWORD" yaml:"admin_bootstrap_pass"`

	// ServiceAuthPublicKeyFile enables the service-to-service notification
	// endpoint when set; the file holds the PEM RSA public key matching the
	// backend services' token signer.
	ServiceAuthPublicKeyFile string   `env:"LANTERN_SERVICE_AUTH_PUBLIC_KEY_FILE" yaml:"service_auth_public_key_file"`
	AllowedServices          []string `env:"LANTERN_ALLOWED_SERVICES" yaml:"allowed_services"`
}

// SMTPConfig controls outbound notification email.
type SMTPConfig struct {
	Host     string `env:"LANTERN_SMTP_HOST" yaml:"host"`
	Port     int    `env:"LANTERN_SMTP_PORT,default=587" yaml:"port"`
	Username string `env:"LANTERN_SMTP_USERNAME" yaml:"username"`
	Password string `env:"LANTERN_SMTP_PASSWORD" yaml:"password"`
	Sender   string `env:"LANTERN_SMTP_SENDER" yaml:"sender"`
}

// LoggingConfig controls both logging tiers.
type LoggingConfig struct {
	Level      string `env:"LANTERN_LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LANTERN_LOG_FORMAT,default=json" yaml:"format"`
	Output     string `env:"LANTERN_LOG_OUTPUT,default=stdout" yaml:"output"`
	FilePrefix string `env:"LANTERN_LOG_FILE_PREFIX" yaml:"file_prefix"`
	AuditPath  string `env:"LANTERN_AUDIT_PATH" yaml:"audit_path"`
}

// RateLimitConfig controls per-caller request budgets.
type RateLimitConfig struct {
	RequestsPerSecond int `env:"LANTERN_RATE_LIMIT_RPS,default=20" yaml:"requests_per_second"`
	Burst             int `env:"LANTERN_RATE_LIMIT_BURST,default=40" yaml:"burst"`
}

// RetentionConfig controls the cleanup job.
type RetentionConfig struct {
	NotificationMaxAge time.Duration `env:"LANTERN_NOTIFICATION_MAX_AGE,default=2160h" yaml:"notification_max_age"`
	CleanupSchedule    string        `env:"LANTERN_CLEANUP_SCHEDULE,default=0 3 * * *" yaml:"cleanup_schedule"`
}

// CORSConfig controls cross-origin access.
type CORSConfig struct {
	AllowedOrigins []string `env:"LANTERN_CORS_ALLOWED_ORIGINS,default=*" yaml:"allowed_origins"`
}

// Load builds the configuration from the environment, then applies the YAML
// overlay named by LANTERN_CONFIG_FILE when present.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := os.Getenv("LANTERN_CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile builds the configuration from the environment plus an
// explicit overlay file. Used by tests and tooling.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := applyFile(&cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints not expressible as tag defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Server.OpsPort == c.Server.Port {
		return fmt.Errorf("ops port must differ from server port")
	}
	if c.SMTP.Host != "" && c.SMTP.Sender == "" {
		return fmt.Errorf("smtp sender is required when smtp host is set")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit rps must be positive")
	}
	return nil
}
