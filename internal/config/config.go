// Package config loads the geocoder configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Migrate MigrateConfig `yaml:"migrate" mapstructure:"migrate"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the venue store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Database    string `yaml:"database" mapstructure:"database"`
	Collection  string `yaml:"collection" mapstructure:"collection"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// GeocodeConfig configures the geocoding provider.
type GeocodeConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"`
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	RateLimit   float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig controls retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig controls the provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MigrateConfig configures the enrichment run.
type MigrateConfig struct {
	Concurrency      int  `yaml:"concurrency" mapstructure:"concurrency"`
	PendingOnly      bool `yaml:"pending_only" mapstructure:"pending_only"`
	EmptyIsMigrated  bool `yaml:"empty_is_migrated" mapstructure:"empty_is_migrated"`
	WriteTimeoutSecs int  `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// MetricsConfig configures the optional Prometheus Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GEOCODER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.database", "venues")
	v.SetDefault("store.collection", "venue")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("geocode.provider", "google")
	v.SetDefault("geocode.api_key", "")
	v.SetDefault("geocode.base_url", "")
	v.SetDefault("geocode.rate_limit", 10)
	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("geocode.retry.max_attempts", 3)
	v.SetDefault("geocode.retry.initial_backoff_ms", 500)
	v.SetDefault("geocode.retry.max_backoff_ms", 10000)
	v.SetDefault("geocode.circuit.failure_threshold", 5)
	v.SetDefault("geocode.circuit.reset_timeout_secs", 30)
	v.SetDefault("migrate.concurrency", 4)
	v.SetDefault("migrate.pending_only", false)
	v.SetDefault("migrate.empty_is_migrated", false)
	v.SetDefault("migrate.write_timeout_secs", 30)
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "venue_geocoder")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Modes are "migrate",
// "status" and "resolve".
func (c *Config) Validate(mode string) error {
	var problems []string

	needStore := mode == "migrate" || mode == "status"
	needGeocode := mode == "migrate" || mode == "resolve"
	if !needStore && !needGeocode {
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needStore {
		switch c.Store.Driver {
		case "mongo", "postgres", "sqlite":
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required (GEOCODER_STORE_DATABASE_URL)")
		}
		if c.Store.Collection == "" {
			problems = append(problems, "store.collection is required")
		}
		// The streaming read holds one connection while writes need another.
		if c.Store.Driver == "postgres" && c.Store.MaxConns < 2 {
			problems = append(problems, "store.max_conns must be at least 2 for postgres")
		}
	}

	if needGeocode {
		switch c.Geocode.Provider {
		case "google", "mapbox", "positionstack":
		default:
			problems = append(problems, fmt.Sprintf("geocode.provider %q is not supported", c.Geocode.Provider))
		}
		if c.Geocode.APIKey == "" {
			problems = append(problems, "geocode.api_key is required (GEOCODER_GEOCODE_API_KEY)")
		}
		if c.Geocode.RateLimit <= 0 {
			problems = append(problems, "geocode.rate_limit must be > 0")
		}
	}

	if mode == "migrate" {
		if c.Migrate.Concurrency < 1 || c.Migrate.Concurrency > 64 {
			problems = append(problems, "migrate.concurrency must be between 1 and 64")
		}
		if c.Migrate.WriteTimeoutSecs < 1 {
			problems = append(problems, "migrate.write_timeout_secs must be >= 1")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
