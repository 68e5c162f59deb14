package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable name, e.g. DISPATCH_SERVER_PORT.
const EnvPrefix = "DISPATCH"

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig `split_words:"true"`
	Realtime RealtimeConfig
	Audit    AuditConfig
	Storage  StorageConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `split_words:"true" default:"8080"`
	ReadTimeout     time.Duration `split_words:"true" default:"10s"`
	WriteTimeout    time.Duration `split_words:"true" default:"10s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"5s"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `split_words:"true" default:"localhost"`
	Port     string `split_words:"true" default:"5432"`
	User     string `split_words:"true" default:"postgres"`
	Password string `split_words:"true" default:"postgres"`
	DBName   string `split_words:"true" default:"dispatch"`
	SSLMode  string `split_words:"true" default:"disable"`

	MaxOpenConns    int           `split_words:"true" default:"50"`
	MaxIdleConns    int           `split_words:"true" default:"25"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"30m"`
	ConnMaxIdleTime time.Duration `split_words:"true" default:"5m"`

	AutoMigrate bool `split_words:"true" default:"true"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string `split_words:"true" default:"localhost:6379"`
	Password string `split_words:"true"`
	DB       int    `split_words:"true" default:"0"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `split_words:"true" default:"dispatch-service"`
	LicenseKey string `split_words:"true"`
	Enabled    bool   `split_words:"true" default:"false"`
}

// RealtimeConfig sizes the in-process broadcaster and websocket transport.
type RealtimeConfig struct {
	BufferSize     int           `split_words:"true" default:"64"`
	ReplaySize     int           `split_words:"true" default:"512"`
	PingInterval   time.Duration `split_words:"true" default:"30s"`
	MaxMessageSize int64         `split_words:"true" default:"4096"`
	RelayEnabled   bool          `split_words:"true" default:"true"`
}

// AuditConfig controls the integrity sweeper.
type AuditConfig struct {
	Enabled  bool          `split_words:"true" default:"true"`
	Interval time.Duration `split_words:"true" default:"1m"`
	LockTTL  time.Duration `split_words:"true" default:"2m"`
}

// StorageConfig selects the request and assignment store.
type StorageConfig struct {
	Driver string `split_words:"true" default:"postgres"`
	// SeedFile is a JSON directory seed loaded when Driver is memory.
	SeedFile string `split_words:"true"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level     string `split_words:"true" default:"info"`
	Format    string `split_words:"true" default:"json"`
	WarnStack bool   `split_words:"true" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}

	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("audit interval must be positive")
	}
	if c.Realtime.MaxMessageSize <= 0 {
		return fmt.Errorf("realtime max message size must be positive")
	}
	return nil
}
