package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Session  SessionConfig  `mapstructure:"session"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Search   SearchConfig   `mapstructure:"search"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// PublicURL is the address remote applications use to reach the
	// indexer proxy endpoints.
	PublicURL string `mapstructure:"public_url"`
	APIKey    string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	// SeedFile is an optional indexers.yaml applied on startup.
	SeedFile string `mapstructure:"seed_file"`
	// SecretKey encrypts application API keys at rest when set.
	SecretKey string `mapstructure:"secret_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SessionConfig selects where indexer login sessions are kept.
type SessionConfig struct {
	Store      string        `mapstructure:"store"` // "sqlite" or "bolt"
	BoltPath   string        `mapstructure:"bolt_path"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// SyncConfig holds application sync settings.
type SyncConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	SchemaTTL      time.Duration `mapstructure:"schema_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SearchConfig holds indexer request settings.
type SearchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RequestRate    float64       `mapstructure:"request_rate"` // requests per second per indexer
	RequestBurst   int           `mapstructure:"request_burst"`
	MaxRetries     int           `mapstructure:"max_retries"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > .env file > config file > defaults
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.indexarr")
	}

	v.SetEnvPrefix("INDEXARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9696)
	v.SetDefault("server.public_url", "http://localhost:9696")
	v.SetDefault("server.api_key", "")

	// Database defaults
	v.SetDefault("database.path", "./data/indexarr.db")
	v.SetDefault("database.seed_file", "")
	v.SetDefault("database.secret_key", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	// Session defaults
	v.SetDefault("session.store", "sqlite")
	v.SetDefault("session.bolt_path", "./data/sessions.bolt")
	v.SetDefault("session.default_ttl", 7*24*time.Hour)

	// Sync defaults
	v.SetDefault("sync.interval", 6*time.Hour)
	v.SetDefault("sync.schema_ttl", 7*24*time.Hour)
	v.SetDefault("sync.request_timeout", 30*time.Second)

	// Search defaults
	v.SetDefault("search.timeout", 60*time.Second)
	v.SetDefault("search.max_concurrency", 8)
	v.SetDefault("search.request_rate", 1.0)
	v.SetDefault("search.request_burst", 2)
	v.SetDefault("search.max_retries", 2)
	v.SetDefault("search.user_agent", "Indexarr")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.APIKey == "" {
		errs = append(errs, errors.New("server.api_key is required"))
	}
	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.public_url %q must be an absolute url", c.Server.PublicURL))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Session.Store {
	case "sqlite":
	case "bolt":
		if c.Session.BoltPath == "" {
			errs = append(errs, errors.New("session.bolt_path is required for the bolt store"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.store %q must be sqlite or bolt", c.Session.Store))
	}
	if c.Search.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("search.max_concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
