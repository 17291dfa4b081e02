package testsupport

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
)

// MapStore is a cache.Store over a plain map that honors absolute
// expirations against its clock and counts its calls.
type MapStore struct {
	id    int
	clock cache.Clock

	mu    sync.Mutex
	items map[string]mapItem

	Sets    atomic.Int64
	Gets    atomic.Int64
	Removes atomic.Int64
}

type mapItem struct {
	value     any
	expiresAt time.Time
}

func NewMapStore(id int, clock cache.Clock) *MapStore {
	if clock == nil {
		clock = cache.RealClock{}
	}
	return &MapStore{id: id, clock: clock, items: map[string]mapItem{}}
}

func (s *MapStore) StoreID() int { return s.id }

func (s *MapStore) Set(key string, value any, absoluteExpiration time.Time) {
	s.Sets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = mapItem{value: value, expiresAt: absoluteExpiration}
}

func (s *MapStore) Get(key string) (any, bool) {
	s.Gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if !it.expiresAt.IsZero() && !s.clock.Now().Before(it.expiresAt) {
		delete(s.items, key)
		return nil, false
	}
	return it.value, true
}

func (s *MapStore) Remove(key string) {
	s.Removes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

func (s *MapStore) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *MapStore) GetAll() []cache.KeyValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]cache.KeyValue, 0, len(s.items))
	for k, it := range s.items {
		if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
			continue
		}
		out = append(out, cache.KeyValue{Key: k, Value: it.value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len counts stored items, expired or not.
func (s *MapStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ErrStoreDown is returned by FailingStore.
var ErrStoreDown = errors.New("store down")

// FailingStore is a cache.AsyncStore whose every operation fails.
type FailingStore struct {
	ID int
}

func (s FailingStore) StoreID() int { return s.ID }

func (s FailingStore) Set(context.Context, string, any, time.Time) error { return ErrStoreDown }

func (s FailingStore) Get(context.Context, string) (any, bool, error) {
	return nil, false, ErrStoreDown
}

func (s FailingStore) Remove(context.Context, string) error { return ErrStoreDown }

func (s FailingStore) Contains(context.Context, string) (bool, error) { return false, ErrStoreDown }

func (s FailingStore) GetAll(context.Context) ([]cache.KeyValue, error) { return nil, ErrStoreDown }
