package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete Ladder configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which collaborators are used
	Tier Tier `json:"tier"`

	// Validation controls the sequential threshold checks
	Validation ValidationConfig `json:"validation"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ValidationConfig holds settings for the reward sequence checks.
type ValidationConfig struct {
	// Strategy is "cumulative" (compare against every earlier reward) or
	// "adjacent" (compare against the immediate predecessor only).
	Strategy string `json:"strategy"`

	// DeleteConfirmTTL is how long a delete confirmation token stays valid.
	DeleteConfirmTTL time.Duration `json:"deleteConfirmTtl"`

	// MaxDeleteAttempts bounds wrong confirmation tokens per program per window.
	MaxDeleteAttempts int `json:"maxDeleteAttempts"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Validation: ValidationConfig{
			Strategy:          "cumulative",
			DeleteConfirmTTL:  2 * time.Minute,
			MaxDeleteAttempts: 5,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./ladder.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ProgramTTL:   10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ladder",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "ladder",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ProgramTTL:     10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig picks the tier from LADDER_TIER and applies environment overrides.
func LoadConfig(lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	if tier, ok := lookup("LADDER_TIER"); ok && Tier(strings.ToLower(tier)) == TierPro {
		cfg = ProConfig()
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with LADDER_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("LADDER_HOST", &cfg.Server.Host)
	if err := num("LADDER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	str("LADDER_LOG_LEVEL", &cfg.Logging.Level)
	str("LADDER_LOG_FORMAT", &cfg.Logging.Format)
	if v, ok := lookup("LADDER_DEBUG"); ok && v == "true" {
		cfg.Logging.Level = "debug"
	}

	str("LADDER_VALIDATION_STRATEGY", &cfg.Validation.Strategy)
	switch cfg.Validation.Strategy {
	case "cumulative", "adjacent":
	default:
		return fmt.Errorf("LADDER_VALIDATION_STRATEGY: unsupported strategy %q", cfg.Validation.Strategy)
	}

	str("LADDER_DB_DRIVER", &cfg.Repository.Driver)
	str("LADDER_SQLITE_PATH", &cfg.Repository.SQLitePath)
	str("LADDER_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	if err := num("LADDER_POSTGRES_PORT", &cfg.Repository.PostgresPort); err != nil {
		return err
	}
	str("LADDER_POSTGRES_USER", &cfg.Repository.PostgresUser)
	str("LADDER_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	str("LADDER_POSTGRES_DB", &cfg.Repository.PostgresDB)
	str("LADDER_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	str("LADDER_CACHE_TYPE", &cfg.Cache.Type)
	str("LADDER_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("LADDER_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	if err := num("LADDER_REDIS_DB", &cfg.Cache.RedisDB); err != nil {
		return err
	}

	str("LADDER_BUS_TYPE", &cfg.EventBus.Type)
	str("LADDER_NATS_URL", &cfg.EventBus.NATSUrl)
	str("LADDER_NATS_TOKEN", &cfg.EventBus.NATSToken)

	return nil
}
