package cacheinfra

import (
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	lru "github.com/hashicorp/golang-lru"
)

// LRUStore is a size bounded store evicting the least recently used key.
type LRUStore struct {
	id    int
	lru   *lru.Cache
	clock cache.Clock
}

func NewLRUStore(id, size int, clock cache.Clock) (*LRUStore, error) {
	if size <= 0 {
		return nil, &ConfigError{Field: "Size", Message: "must be greater than 0"}
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = cache.RealClock{}
	}
	return &LRUStore{id: id, lru: c, clock: clock}, nil
}

func (s *LRUStore) StoreID() int { return s.id }

func (s *LRUStore) Set(key string, value any, absoluteExpiration time.Time) {
	s.lru.Add(key, item{value: value, expiresAt: absoluteExpiration})
}

func (s *LRUStore) Get(key string) (any, bool) {
	v, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	it := v.(item)
	if it.expired(s.clock.Now()) {
		s.lru.Remove(key)
		return nil, false
	}
	return it.value, true
}

func (s *LRUStore) Remove(key string) {
	s.lru.Remove(key)
}

func (s *LRUStore) Contains(key string) bool {
	v, ok := s.lru.Peek(key)
	return ok && !v.(item).expired(s.clock.Now())
}

func (s *LRUStore) GetAll() []cache.KeyValue {
	now := s.clock.Now()
	var out []cache.KeyValue
	for _, k := range s.lru.Keys() {
		v, ok := s.lru.Peek(k)
		if !ok || v.(item).expired(now) {
			continue
		}
		out = append(out, cache.KeyValue{Key: k.(string), Value: v.(item).value})
	}
	return out
}
