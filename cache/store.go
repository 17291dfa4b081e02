package cache

import (
	"context"
	"fmt"
	"time"
)

// DefaultStoreID identifies the default in-memory store.
const DefaultStoreID = 0

// KeyValue is one item returned by GetAll.
type KeyValue struct {
	Key   string
	Value any
}

// Store is a synchronous key/value store. Implementations must be safe for
// concurrent use. A zero absoluteExpiration means the value never expires.
type Store interface {
	StoreID() int
	Set(key string, value any, absoluteExpiration time.Time)
	Get(key string) (any, bool)
	Remove(key string)
	Contains(key string) bool
	GetAll() []KeyValue
}

// AsyncStore is a store whose operations may block on I/O.
type AsyncStore interface {
	StoreID() int
	Set(ctx context.Context, key string, value any, absoluteExpiration time.Time) error
	Get(ctx context.Context, key string) (any, bool, error)
	Remove(ctx context.Context, key string) error
	Contains(ctx context.Context, key string) (bool, error)
	GetAll(ctx context.Context) ([]KeyValue, error)
}

// AsAsync adapts a synchronous store to the AsyncStore contract.
func AsAsync(s Store) AsyncStore {
	if s == nil {
		return nil
	}
	return &asyncAdapter{store: s}
}

type asyncAdapter struct {
	store Store
}

func (a *asyncAdapter) StoreID() int { return a.store.StoreID() }

func (a *asyncAdapter) Set(ctx context.Context, key string, value any, absoluteExpiration time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.store.Set(key, value, absoluteExpiration)
	return nil
}

func (a *asyncAdapter) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := a.store.Get(key)
	return v, ok, nil
}

func (a *asyncAdapter) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.store.Remove(key)
	return nil
}

func (a *asyncAdapter) Contains(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return a.store.Contains(key), nil
}

func (a *asyncAdapter) GetAll(ctx context.Context) ([]KeyValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.store.GetAll(), nil
}

// GetEntry reads key from store and returns it as an Entry.
func GetEntry(ctx context.Context, store AsyncStore, key string) (*Entry, bool, error) {
	v, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, false, WrapStoreError(err, fmt.Sprintf("get %q from store %d", key, store.StoreID()))
	}
	if !ok {
		return nil, false, nil
	}
	entry, ok := AsEntry(v)
	return entry, ok, nil
}

// SetEntry writes entry under its key with the entry's absolute expiration.
func SetEntry(ctx context.Context, store AsyncStore, entry *Entry) error {
	if err := store.Set(ctx, entry.Key, entry, entry.ExpiresAt()); err != nil {
		return WrapStoreError(err, fmt.Sprintf("set %q in store %d", entry.Key, store.StoreID()))
	}
	return nil
}

// AsEntry converts a stored value to an Entry.
func AsEntry(v any) (*Entry, bool) {
	e, ok := v.(*Entry)
	return e, ok && e != nil
}
