// Package config provides layered configuration for the task service.
// Precedence, highest first: process environment, YAML config file,
// built-in defaults. A .env file, when present, is loaded into the
// process environment before anything else.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultBodySizeLimit is the maximum accepted request body size (10MB).
const DefaultBodySizeLimit int64 = 10 << 20

// Config holds the typed application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Auth    AuthConfig    `yaml:"auth"`
	Usage   UsageConfig   `yaml:"usage"`
	Logging LoggingConfig `yaml:"logging"`

	// AIProvider is the raw aiProvider section: role bindings
	// (primary, fallback) and per-provider option sub-objects.
	AIProvider map[string]any `yaml:"aiProvider"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string `yaml:"port"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	BodySizeLimit  int64  `yaml:"body_size_limit"`
	RateLimit      int    `yaml:"rate_limit"` // requests/second, 0 disables
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Type string `yaml:"type"` // sqlite, postgresql, mongodb

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	PostgreSQL struct {
		URL      string `yaml:"url"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"postgresql"`

	MongoDB struct {
		URL      string `yaml:"url"`
		Database string `yaml:"database"`
	} `yaml:"mongodb"`
}

// CacheConfig configures the generation response cache.
type CacheConfig struct {
	Type string `yaml:"type"` // memory, redis
	TTL  int    `yaml:"ttl"`  // seconds

	Redis struct {
		URL string `yaml:"url"`
		Key string `yaml:"key"`
	} `yaml:"redis"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// MasterKey, when set, is accepted as a static bearer token.
	MasterKey string `yaml:"master_key"`
	// JWTSecret, when set, enables HS256 bearer token validation.
	JWTSecret string `yaml:"jwt_secret"`
}

// UsageConfig configures token usage recording.
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // pretty, json
}

// CacheTTL returns the configured cache TTL as a duration.
func (c CacheConfig) CacheTTL() time.Duration {
	if c.TTL <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTL) * time.Second
}

// Load reads configuration from the optional YAML file at path (empty means
// TASKMASTER_CONFIG or ./taskmaster.yaml) with environment overrides
// applied on top. A missing config file is not an error.
func Load(path string) (*Manager, error) {
	// .env is optional; values become regular env vars.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("TASKMASTER_CONFIG")
	}
	if path == "" {
		path = "taskmaster.yaml"
	}

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No config file, defaults + env only.
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return &Manager{cfg: cfg}, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.BodySizeLimit = DefaultBodySizeLimit
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = "data/taskmaster.db"
	cfg.Storage.PostgreSQL.MaxConns = 10
	cfg.Storage.MongoDB.Database = "taskmaster"
	cfg.Cache.Type = "memory"
	cfg.Cache.TTL = 3600
	cfg.Usage.Enabled = true
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "pretty"
	cfg.AIProvider = map[string]any{}
	return cfg
}

// applyEnvOverrides overlays well-known environment variables onto the
// typed config. Env values always win over file values.
func applyEnvOverrides(cfg *Config) {
	setIfEnv := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setIfEnv(&cfg.Server.Port, "PORT")
	setIfEnv(&cfg.Storage.Type, "STORAGE_TYPE")
	setIfEnv(&cfg.Storage.SQLite.Path, "SQLITE_PATH")
	setIfEnv(&cfg.Storage.PostgreSQL.URL, "POSTGRES_URL")
	setIfEnv(&cfg.Storage.MongoDB.URL, "MONGODB_URL")
	setIfEnv(&cfg.Cache.Type, "CACHE_TYPE")
	setIfEnv(&cfg.Cache.Redis.URL, "REDIS_URL")
	setIfEnv(&cfg.Auth.MasterKey, "MASTER_KEY")
	setIfEnv(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setIfEnv(&cfg.Logging.Level, "LOG_LEVEL")
	setIfEnv(&cfg.Logging.Format, "LOG_FORMAT")

	if cfg.AIProvider == nil {
		cfg.AIProvider = map[string]any{}
	}
	if v := os.Getenv("TASKMASTER_AIPROVIDER_PRIMARY"); v != "" {
		cfg.AIProvider["primary"] = v
	}
	if v := os.Getenv("TASKMASTER_AIPROVIDER_FALLBACK"); v != "" {
		cfg.AIProvider["fallback"] = v
	}
}
