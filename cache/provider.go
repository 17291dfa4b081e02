package cache

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// StoreProvider maps store ids and concrete store types to instances.
// Id 0 is reserved for the default in-memory store.
type StoreProvider struct {
	stores      *xsync.MapOf[int, Store]
	asyncStores *xsync.MapOf[int, AsyncStore]
	types       *xsync.MapOf[reflect.Type, int]
}

func NewStoreProvider() *StoreProvider {
	return &StoreProvider{
		stores:      xsync.NewMapOf[int, Store](),
		asyncStores: xsync.NewMapOf[int, AsyncStore](),
		types:       xsync.NewMapOf[reflect.Type, int](),
	}
}

// RegisterStore adds a synchronous store. Registering the same id twice is a
// configuration error.
func (p *StoreProvider) RegisterStore(s Store) error {
	if s == nil {
		return NewConfigurationError(TextCodeInvalidConfig, "store is nil")
	}
	if err := p.reserve(s.StoreID()); err != nil {
		return err
	}
	p.stores.Store(s.StoreID(), s)
	p.types.LoadOrStore(reflect.TypeOf(s), s.StoreID())
	return nil
}

// RegisterAsyncStore adds an asynchronous store.
func (p *StoreProvider) RegisterAsyncStore(s AsyncStore) error {
	if s == nil {
		return NewConfigurationError(TextCodeInvalidConfig, "store is nil")
	}
	if err := p.reserve(s.StoreID()); err != nil {
		return err
	}
	p.asyncStores.Store(s.StoreID(), s)
	p.types.LoadOrStore(reflect.TypeOf(s), s.StoreID())
	return nil
}

func (p *StoreProvider) reserve(id int) error {
	if id < 0 {
		return NewConfigurationError(TextCodeInvalidConfig, fmt.Sprintf("store id %d must not be negative", id))
	}
	_, taken := p.stores.Load(id)
	if !taken {
		_, taken = p.asyncStores.Load(id)
	}
	if taken {
		return NewConfigurationError(TextCodeInvalidConfig, fmt.Sprintf("store id %d already registered", id))
	}
	return nil
}

// GetStore returns the synchronous store registered under id.
func (p *StoreProvider) GetStore(id int) (Store, bool) {
	return p.stores.Load(id)
}

// GetAsyncStore returns the store registered under id, adapting synchronous
// stores.
func (p *StoreProvider) GetAsyncStore(id int) (AsyncStore, bool) {
	if s, ok := p.asyncStores.Load(id); ok {
		return s, true
	}
	if s, ok := p.stores.Load(id); ok {
		return AsAsync(s), true
	}
	return nil, false
}

// GetStoreByType returns the synchronous store whose concrete type is t.
func (p *StoreProvider) GetStoreByType(t reflect.Type) (Store, bool) {
	id, ok := p.typeID(t)
	if !ok {
		return nil, false
	}
	return p.GetStore(id)
}

// GetAsyncStoreByType returns the store whose concrete type is t.
func (p *StoreProvider) GetAsyncStoreByType(t reflect.Type) (AsyncStore, bool) {
	id, ok := p.typeID(t)
	if !ok {
		return nil, false
	}
	return p.GetAsyncStore(id)
}

func (p *StoreProvider) typeID(t reflect.Type) (int, bool) {
	if t == nil {
		return 0, false
	}
	if id, ok := p.types.Load(t); ok {
		return id, true
	}
	if t.Kind() != reflect.Pointer {
		return p.types.Load(reflect.PointerTo(t))
	}
	return 0, false
}

// AsyncStores lists every registered store ordered by id.
func (p *StoreProvider) AsyncStores() []AsyncStore {
	var out []AsyncStore
	p.asyncStores.Range(func(_ int, s AsyncStore) bool {
		out = append(out, s)
		return true
	})
	p.stores.Range(func(_ int, s Store) bool {
		out = append(out, AsAsync(s))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID() < out[j].StoreID() })
	return out
}
