package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete daemon configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	Webhook       WebhookConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Database drivers supported by the store. The two schema renderings are
// semantically equivalent; SQLite stores UUIDs and payloads as text.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds storage configuration. When ConnectionString (from
// DATABASE_URL) is set it takes precedence over individual fields. For the
// sqlite driver, Path is the database file location.
type DatabaseConfig struct {
	Driver           string
	ConnectionString string // From DATABASE_URL when set
	Path             string // SQLite file path
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// SecurityConfig holds key material for token hashing and event signing.
// TokenPepper keys the one-way hash of raw API secrets; SigningKey signs
// rotation payloads and verifies signed audit payloads. Both are required.
type SecurityConfig struct {
	TokenPepper       string
	SigningKey        string
	OperatorJWTSecret string // optional; enables operator session tokens on the admin surface
	OwnerLabel        string // opaque non-secret label embedded in rotation payloads
}

// SubscriberConfig identifies one webhook delivery target.
type SubscriberConfig struct {
	Name      string
	URL       string
	Mandatory bool
}

// WebhookConfig tunes the rotation event dispatcher.
type WebhookConfig struct {
	Subscribers    []SubscriberConfig
	PollInterval   time.Duration
	LeaseTTL       time.Duration
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	WorkerCount    int
	BatchSize      int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8443),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Security: SecurityConfig{
			TokenPepper:       getEnv("TOKEN_PEPPER", ""),
			SigningKey:        getEnv("LEDGER_SIGNING_KEY", ""),
			OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
			OwnerLabel:        getEnv("KEY_OWNER_LABEL", "keygate"),
		},
		Webhook: WebhookConfig{
			Subscribers:    loadSubscribers(),
			PollInterval:   getEnvAsDuration("WEBHOOK_POLL_INTERVAL", 2*time.Second),
			LeaseTTL:       getEnvAsDuration("WEBHOOK_LEASE_TTL", 30*time.Second),
			AttemptTimeout: getEnvAsDuration("WEBHOOK_ATTEMPT_TIMEOUT", 10*time.Second),
			InitialBackoff: getEnvAsDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     getEnvAsDuration("WEBHOOK_MAX_BACKOFF", 5*time.Minute),
			WorkerCount:    getEnvAsInt("WEBHOOK_WORKER_COUNT", 2),
			BatchSize:      getEnvAsInt("WEBHOOK_BATCH_SIZE", 20),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("sqlite driver requires DB_PATH")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Security.TokenPepper == "" {
		return fmt.Errorf("TOKEN_PEPPER is required")
	}
	if c.Security.SigningKey == "" {
		return fmt.Errorf("LEDGER_SIGNING_KEY is required")
	}

	if c.Webhook.WorkerCount <= 0 {
		return fmt.Errorf("webhook worker count must be positive")
	}
	if c.Webhook.InitialBackoff <= 0 || c.Webhook.MaxBackoff < c.Webhook.InitialBackoff {
		return fmt.Errorf("webhook backoff bounds are invalid")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password).
func (c *DatabaseConfig) LogString() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("sqlite path=%s", c.Path)
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", DriverPostgres),
		Path:            getEnv("DB_PATH", ""),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}

	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "keygate")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "keygate")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// loadSubscribers parses WEBHOOK_SUBSCRIBERS and
// WEBHOOK_OPTIONAL_SUBSCRIBERS, each a comma-separated list of name=url
// pairs. Only mandatory subscribers gate the delivered transition.
func loadSubscribers() []SubscriberConfig {
	var subs []SubscriberConfig
	subs = append(subs, parseSubscriberList(getEnv("WEBHOOK_SUBSCRIBERS", ""), true)...)
	subs = append(subs, parseSubscriberList(getEnv("WEBHOOK_OPTIONAL_SUBSCRIBERS", ""), false)...)
	return subs
}

func parseSubscriberList(raw string, mandatory bool) []SubscriberConfig {
	if raw == "" {
		return nil
	}
	var subs []SubscriberConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, target, found := strings.Cut(entry, "=")
		if !found || name == "" || target == "" {
			continue
		}
		subs = append(subs, SubscriberConfig{Name: name, URL: target, Mandatory: mandatory})
	}
	return subs
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
