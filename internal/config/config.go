package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Token         TokenConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// TokenConfig holds credential signing configuration
type TokenConfig struct {
	SigningKey   string
	Issuer       string
	TTL          time.Duration
	RefreshGrace time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// DefaultRequestsPerWindow applies to tenants with no explicit limit.
	DefaultRequestsPerWindow int
	Window                   time.Duration
	// PreAuthRPS throttles unauthenticated traffic per source IP.
	PreAuthRPS   float64
	PreAuthBurst int
}

// CacheConfig holds Redis configuration
type CacheConfig struct {
	Address  string
	Password string
	DB       int
}

// ArchiveConfig holds tenant archival configuration
type ArchiveConfig struct {
	Dir                string
	RetentionYears     int
	ArchiveAfterDays   int
	EncryptionRequired bool
	EncryptionKey      string
	Compress           bool
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "medplane"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "medplane"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Token: TokenConfig{
			SigningKey:   getEnv("TOKEN_SIGNING_KEY", ""),
			Issuer:       getEnv("TOKEN_ISSUER", "medplane"),
			TTL:          parseDuration("TOKEN_TTL", "1h"),
			RefreshGrace: parseDuration("TOKEN_REFRESH_GRACE", "5m"),
		},
		RateLimit: RateLimitConfig{
			DefaultRequestsPerWindow: parseInt("RATELIMIT_REQUESTS_PER_WINDOW", 600),
			Window:                   parseDuration("RATELIMIT_WINDOW", "1m"),
			PreAuthRPS:               float64(parseInt("RATELIMIT_PREAUTH_RPS", 10)),
			PreAuthBurst:             parseInt("RATELIMIT_PREAUTH_BURST", 20),
		},
		Cache: CacheConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt("REDIS_DB", 0),
		},
		Archive: ArchiveConfig{
			Dir:                getEnv("ARCHIVE_DIR", "/var/lib/medplane/archives"),
			RetentionYears:     parseInt("ARCHIVE_RETENTION_YEARS", 7),
			ArchiveAfterDays:   parseInt("ARCHIVE_AFTER_DAYS", 365),
			EncryptionRequired: parseBool("ARCHIVE_ENCRYPTION_REQUIRED", true),
			EncryptionKey:      getEnv("ARCHIVE_ENCRYPTION_KEY", ""),
			Compress:           parseBool("ARCHIVE_COMPRESS", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "medplane"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Token.SigningKey == "" {
		return fmt.Errorf("TOKEN_SIGNING_KEY is required")
	}
	if len(c.Token.SigningKey) < 32 {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 bytes")
	}
	if c.Archive.EncryptionRequired && len(c.Archive.EncryptionKey) != 32 {
		return fmt.Errorf("ARCHIVE_ENCRYPTION_KEY must be exactly 32 bytes when encryption is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
