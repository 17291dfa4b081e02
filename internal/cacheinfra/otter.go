package cacheinfra

import (
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/maypok86/otter"
)

// OtterStore is a bounded store with per item TTLs.
type OtterStore struct {
	id    int
	otter otter.CacheWithVariableTTL[string, item]
	clock cache.Clock
}

func NewOtterStore(id, capacity int, clock cache.Clock) (*OtterStore, error) {
	if capacity <= 0 {
		return nil, &ConfigError{Field: "Size", Message: "must be greater than 0"}
	}
	c, err := otter.MustBuilder[string, item](capacity).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = cache.RealClock{}
	}
	return &OtterStore{id: id, otter: c, clock: clock}, nil
}

func (s *OtterStore) StoreID() int { return s.id }

func (s *OtterStore) Set(key string, value any, absoluteExpiration time.Time) {
	ttl := ttlUntil(s.clock.Now(), absoluteExpiration)
	if ttl <= 0 {
		s.otter.Delete(key)
		return
	}
	s.otter.Set(key, item{value: value, expiresAt: absoluteExpiration}, ttl)
}

func (s *OtterStore) Get(key string) (any, bool) {
	it, ok := s.otter.Get(key)
	if !ok {
		return nil, false
	}
	if it.expired(s.clock.Now()) {
		s.otter.Delete(key)
		return nil, false
	}
	return it.value, true
}

func (s *OtterStore) Remove(key string) {
	s.otter.Delete(key)
}

func (s *OtterStore) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *OtterStore) GetAll() []cache.KeyValue {
	now := s.clock.Now()
	var out []cache.KeyValue
	s.otter.Range(func(key string, it item) bool {
		if !it.expired(now) {
			out = append(out, cache.KeyValue{Key: key, Value: it.value})
		}
		return true
	})
	return out
}

func (s *OtterStore) Close() {
	s.otter.Close()
}
