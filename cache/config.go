package cache

import (
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "FLATWHITE_"

// Config holds the engine configuration. Per-method caching behavior lives
// in Settings; Config covers the stores, defaults and logging.
type Config struct {
	// Capacity is the maximum number of entries in the default store.
	Capacity int `env:"CAPACITY"`
	// NumShards is the number of shards of the default store.
	NumShards int `env:"NUM_SHARDS"`
	// RetentionTTL bounds how long the default store keeps any item. It
	// must exceed the longest Duration plus stale window in use.
	RetentionTTL time.Duration `env:"RETENTION_TTL"`
	// EvictionPercentage is the share of entries evicted when the default
	// store is full.
	EvictionPercentage int `env:"EVICTION_PERCENTAGE"`
	// EvictionInterval is how often the default store scans for expired
	// items. Zero keeps the store's own default.
	EvictionInterval time.Duration `env:"EVICTION_INTERVAL"`

	// DefaultDuration is applied to registered methods whose Settings leave
	// Duration at zero.
	DefaultDuration time.Duration `env:"DEFAULT_DURATION"`
	// DefaultStaleWhileRevalidate is applied together with DefaultDuration.
	DefaultStaleWhileRevalidate time.Duration `env:"DEFAULT_STALE_WHILE_REVALIDATE"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`

	LRU       SizedStoreConfig `envPrefix:"LRU_"`
	Otter     SizedStoreConfig `envPrefix:"OTTER_"`
	Ristretto SizedStoreConfig `envPrefix:"RISTRETTO_"`
	SQL       SQLStoreConfig   `envPrefix:"SQL_"`
}

// SizedStoreConfig enables an optional bounded in-memory store. A zero Size
// leaves the store disabled.
type SizedStoreConfig struct {
	ID   int `env:"ID"`
	Size int `env:"SIZE"`
}

func (c SizedStoreConfig) Enabled() bool { return c.Size > 0 }

func (c SizedStoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Size, validation.Min(0)),
		validation.Field(&c.ID, validation.When(c.Size > 0, validation.Required, validation.Min(1))),
	)
}

// SQLStoreConfig enables the SQL backed store when DSN is set.
type SQLStoreConfig struct {
	ID     int    `env:"ID"`
	Driver string `env:"DRIVER"`
	DSN    string `env:"DSN"`
}

func (c SQLStoreConfig) Enabled() bool { return c.DSN != "" }

func (c SQLStoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.When(c.DSN != "", validation.Required, validation.In("sqlite3", "postgres"))),
		validation.Field(&c.ID, validation.When(c.DSN != "", validation.Required, validation.Min(1))),
	)
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		RetentionTTL:       24 * time.Hour,
		EvictionPercentage: 10,
		DefaultDuration:    time.Minute,
		LogLevel:           "info",
		LogFormat:          "json",
		LRU:                SizedStoreConfig{ID: 1},
		Otter:              SizedStoreConfig{ID: 2},
		Ristretto:          SizedStoreConfig{ID: 3},
		SQL:                SQLStoreConfig{ID: 4, Driver: "sqlite3"},
	}
}

// LoadConfig reads FLATWHITE_* environment variables over DefaultConfig and
// validates the result.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, WrapConfigurationError(err, TextCodeInvalidConfig, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.RetentionTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultDuration, validation.Min(time.Duration(0))),
		validation.Field(&c.DefaultStaleWhileRevalidate, validation.Min(time.Duration(0))),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error", "disabled")),
		validation.Field(&c.LogFormat, validation.In("json", "console")),
		validation.Field(&c.LRU),
		validation.Field(&c.Otter),
		validation.Field(&c.Ristretto),
		validation.Field(&c.SQL),
	)
	return WrapConfigurationError(err, TextCodeInvalidConfig, "invalid cache configuration")
}

// ApplyDefaults fills the Duration of s from the configured defaults when
// left unset.
func (c Config) ApplyDefaults(s Settings) Settings {
	if s.Duration == 0 {
		s.Duration = c.DefaultDuration
		if s.StaleWhileRevalidate == 0 {
			s.StaleWhileRevalidate = c.DefaultStaleWhileRevalidate
		}
	}
	return s
}
