package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/goliatone/go-flatwhite/methodcache"
	"github.com/goliatone/go-flatwhite/pkg/di"
)

// Product is the demo catalog item.
type Product struct {
	ID       string    `json:"id" msgpack:"id"`
	Name     string    `json:"name" msgpack:"name"`
	Price    int       `json:"price" msgpack:"price"`
	Revision int       `json:"revision" msgpack:"revision"`
	LoadedAt time.Time `json:"loaded_at" msgpack:"loaded_at"`
}

// Catalog is a slow in-memory product source.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]Product
	latency  time.Duration
}

func NewCatalog(latency time.Duration) *Catalog {
	return &Catalog{
		latency: latency,
		products: map[string]Product{
			"espresso":   {ID: "espresso", Name: "Espresso", Price: 250},
			"flat-white": {ID: "flat-white", Name: "Flat White", Price: 380},
			"cortado":    {ID: "cortado", Name: "Cortado", Price: 340},
		},
	}
}

// Get returns nil for unknown products.
func (c *Catalog) Get(ctx context.Context, id string) (*Product, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.latency):
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	p.LoadedAt = time.Now()
	return &p, nil
}

func (c *Catalog) SetPrice(id string, price int) (Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %q not found", id)
	}
	p.Price = price
	p.Revision++
	c.products[id] = p
	return p, nil
}

var catalogGet = interception.NewMethod("Catalog", "Get").
	Param("id", interception.TypeOf[string]()).
	Returns(interception.TypeOf[*Product]()).
	Invoke(func(ctx context.Context, target any, args []any) (any, error) {
		return target.(*Catalog).Get(ctx, args[0].(string))
	}).
	Build()

// CachedCatalog serves Catalog reads through the output cache.
type CachedCatalog struct {
	base        *Catalog
	interceptor *methodcache.Interceptor
}

func NewCachedCatalog(c *di.Container, base *Catalog) (*CachedCatalog, error) {
	err := c.Register(catalogGet, cache.Settings{
		Duration:             10 * time.Second,
		StaleWhileRevalidate: 30 * time.Second,
		StaleIfError:         time.Minute,
		VaryByParam:          "id",
		RevalidateKeyFormat:  "product:{id}",
	})
	if err != nil {
		return nil, err
	}
	c.RegisterFactory("Catalog", func(context.Context) (any, error) {
		return base, nil
	})
	return &CachedCatalog{base: base, interceptor: c.Interceptor()}, nil
}

func (c *CachedCatalog) Get(ctx context.Context, id string) (*Product, error) {
	return methodcache.Call[*Product](ctx, c.interceptor, catalogGet, c.base, id)
}
