package cacheinfra

import (
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/viccon/sturdyc"
)

// Config holds the configuration for the sturdyc backed default store.
type Config struct {
	// ID is the store id. The default store uses cache.DefaultStoreID.
	ID int

	// Capacity defines the maximum number of entries that the cache can store.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Higher values improve concurrency but increase memory overhead.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL bounds how long sturdyc keeps any item. Items also carry their own
	// absolute expiration, checked on every read; TTL must be longer than
	// the longest entry lifetime in use.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	// Default: 10 (evict 10% of entries)
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		ID:                 cache.DefaultStoreID,
		Capacity:           10000,
		NumShards:          256,
		TTL:                24 * time.Hour,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL and EvictionPercentage are passed directly to
// sturdyc.New. Early refreshes are not enabled: refreshing is owned by
// the phoenix package.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	if c.ID < 0 {
		return &ConfigError{Field: "ID", Message: "must not be negative"}
	}

	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// MemoryStore is a cache.Store backed by a sturdyc client.
type MemoryStore struct {
	id     int
	client *sturdyc.Client[item]
	clock  cache.Clock
}

// NewMemoryStore creates the sturdyc backed store. It validates the
// configuration and passes the core parameters to sturdyc.New.
func NewMemoryStore(cfg Config, clock cache.Clock) (*MemoryStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, cache.WrapConfigurationError(err, cache.TextCodeInvalidConfig, "invalid memory store configuration")
	}
	if clock == nil {
		clock = cache.RealClock{}
	}

	client := sturdyc.New[item](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &MemoryStore{id: cfg.ID, client: client, clock: clock}, nil
}

func (s *MemoryStore) StoreID() int { return s.id }

func (s *MemoryStore) Set(key string, value any, absoluteExpiration time.Time) {
	s.client.Set(key, item{value: value, expiresAt: absoluteExpiration})
}

func (s *MemoryStore) Get(key string) (any, bool) {
	it, ok := s.client.Get(key)
	if !ok {
		return nil, false
	}
	if it.expired(s.clock.Now()) {
		s.client.Delete(key)
		return nil, false
	}
	return it.value, true
}

func (s *MemoryStore) Remove(key string) {
	s.client.Delete(key)
}

func (s *MemoryStore) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *MemoryStore) GetAll() []cache.KeyValue {
	keys := s.client.ScanKeys()
	out := make([]cache.KeyValue, 0, len(keys))
	for _, key := range keys {
		if v, ok := s.Get(key); ok {
			out = append(out, cache.KeyValue{Key: key, Value: v})
		}
	}
	return out
}

// Len is the number of items held, expired ones included.
func (s *MemoryStore) Len() int {
	return s.client.Size()
}
