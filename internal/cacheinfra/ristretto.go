package cacheinfra

import (
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/goliatone/go-flatwhite/cache"
	"github.com/puzpuzpuz/xsync/v3"
)

// RistrettoStore is a cost bounded store with admission control. Ristretto
// cannot enumerate its keys, so the store keeps its own key index.
//
// The store is lossy: while there is room every write is admitted, but once
// full a new key may be rejected in favor of more frequently used ones, and
// writes are dropped when ristretto's write buffer is contended. Dropped
// counts those writes.
type RistrettoStore struct {
	id      int
	cache   *ristretto.Cache[string, item]
	keys    *xsync.MapOf[string, struct{}]
	clock   cache.Clock
	dropped atomic.Int64
}

// NewRistrettoStore creates a store holding at most maxItems items, each
// with cost 1. Internal bookkeeping is not charged to the cost, so maxItems
// writes fit without eviction.
func NewRistrettoStore(id, maxItems int, clock cache.Clock) (*RistrettoStore, error) {
	if maxItems <= 0 {
		return nil, &ConfigError{Field: "Size", Message: "must be greater than 0"}
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, item]{
		NumCounters:        int64(maxItems) * 10,
		MaxCost:            int64(maxItems),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = cache.RealClock{}
	}
	return &RistrettoStore{id: id, cache: c, keys: xsync.NewMapOf[string, struct{}](), clock: clock}, nil
}

func (s *RistrettoStore) StoreID() int { return s.id }

// Set waits for the write buffer so the value is visible to the next Get.
func (s *RistrettoStore) Set(key string, value any, absoluteExpiration time.Time) {
	ttl := ttlUntil(s.clock.Now(), absoluteExpiration)
	if ttl <= 0 {
		s.Remove(key)
		return
	}
	if !s.cache.SetWithTTL(key, item{value: value, expiresAt: absoluteExpiration}, 1, ttl) {
		s.dropped.Add(1)
		return
	}
	s.keys.Store(key, struct{}{})
	s.cache.Wait()
	if _, ok := s.cache.Get(key); !ok {
		s.keys.Delete(key)
		s.dropped.Add(1)
	}
}

// Dropped is the number of writes ristretto did not keep.
func (s *RistrettoStore) Dropped() int64 {
	return s.dropped.Load()
}

func (s *RistrettoStore) Get(key string) (any, bool) {
	it, ok := s.cache.Get(key)
	if !ok {
		s.keys.Delete(key)
		return nil, false
	}
	if it.expired(s.clock.Now()) {
		s.Remove(key)
		return nil, false
	}
	return it.value, true
}

func (s *RistrettoStore) Remove(key string) {
	s.cache.Del(key)
	s.keys.Delete(key)
}

func (s *RistrettoStore) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *RistrettoStore) GetAll() []cache.KeyValue {
	var out []cache.KeyValue
	s.keys.Range(func(key string, _ struct{}) bool {
		if v, ok := s.Get(key); ok {
			out = append(out, cache.KeyValue{Key: key, Value: v})
		}
		return true
	})
	return out
}

func (s *RistrettoStore) Close() {
	s.cache.Close()
}
