package strategy

import (
	"fmt"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/goliatone/go-flatwhite/revalidation"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Strategy decides, per call, whether to cache and with which key builder,
// store and change monitors.
type Strategy interface {
	CanCache(inv interception.Invocation, values map[string]any) bool
	GetCacheStore(inv interception.Invocation, values map[string]any) (cache.Store, error)
	GetAsyncCacheStore(inv interception.Invocation, values map[string]any) (cache.AsyncStore, error)
	GetChangeMonitors(inv interception.Invocation, values map[string]any) []*revalidation.Monitor
	KeyBuilder() cache.KeyBuilder
}

// Default is the strategy used when settings name none.
type Default struct {
	stores     *cache.StoreProvider
	keyBuilder cache.KeyBuilder
	bus        *revalidation.Bus
	cacheable  *xsync.MapOf[string, bool]
	logger     zerolog.Logger
}

// Option configures the default strategy.
type Option func(*Default)

func WithKeyBuilder(kb cache.KeyBuilder) Option {
	return func(d *Default) {
		if kb != nil {
			d.keyBuilder = kb
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Default) {
		d.logger = logger
	}
}

func NewDefault(stores *cache.StoreProvider, bus *revalidation.Bus, opts ...Option) *Default {
	d := &Default{
		stores:     stores,
		keyBuilder: cache.NewDefaultKeyBuilder(),
		bus:        bus,
		cacheable:  xsync.NewMapOf[string, bool](),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Default) KeyBuilder() cache.KeyBuilder {
	return d.keyBuilder
}

// CanCache depends only on the shape of the method, so the decision is
// memoized per method id.
func (d *Default) CanCache(inv interception.Invocation, _ map[string]any) bool {
	method := inv.Method()
	ok, _ := d.cacheable.LoadOrCompute(method.ID(), func() bool {
		return method.ReturnsValue() &&
			method.Interceptable() &&
			!method.ReturnsNestedFuture() &&
			!method.NoCache
	})
	return ok
}

// GetCacheStore resolves the store by explicit id, then by type, then falls
// back to the default store.
func (d *Default) GetCacheStore(inv interception.Invocation, values map[string]any) (cache.Store, error) {
	settings, _ := cache.SettingsFrom(values)
	if settings.StoreID > 0 {
		if s, ok := d.stores.GetStore(settings.StoreID); ok {
			return s, nil
		}
		d.logFallback(inv, settings)
	} else if settings.StoreType != nil {
		if s, ok := d.stores.GetStoreByType(settings.StoreType); ok {
			return s, nil
		}
		d.logFallback(inv, settings)
	}

	if s, ok := d.stores.GetStore(cache.DefaultStoreID); ok {
		return s, nil
	}
	return nil, cache.NewConfigurationError(cache.TextCodeInvalidConfig, "default cache store is not registered")
}

// GetAsyncCacheStore resolves like GetCacheStore and also finds stores that
// are only registered as asynchronous.
func (d *Default) GetAsyncCacheStore(inv interception.Invocation, values map[string]any) (cache.AsyncStore, error) {
	settings, _ := cache.SettingsFrom(values)
	if settings.StoreID > 0 {
		if s, ok := d.stores.GetAsyncStore(settings.StoreID); ok {
			return s, nil
		}
		d.logFallback(inv, settings)
	} else if settings.StoreType != nil {
		if s, ok := d.stores.GetAsyncStoreByType(settings.StoreType); ok {
			return s, nil
		}
		d.logFallback(inv, settings)
	}

	if s, ok := d.stores.GetAsyncStore(cache.DefaultStoreID); ok {
		return s, nil
	}
	return nil, cache.NewConfigurationError(cache.TextCodeInvalidConfig, "default cache store is not registered")
}

func (d *Default) logFallback(inv interception.Invocation, settings cache.Settings) {
	e := d.logger.Warn().
		Str("method", inv.Method().ID()).
		Int("store_id", settings.StoreID)
	if settings.StoreType != nil {
		e = e.Str("store_type", settings.StoreType.String())
	}
	e.Msg("cache store not found, using default store")
}

// GetChangeMonitors subscribes one monitor for the interpolated
// RevalidateKeyFormat, if any.
func (d *Default) GetChangeMonitors(inv interception.Invocation, values map[string]any) []*revalidation.Monitor {
	settings, _ := cache.SettingsFrom(values)
	if settings.RevalidateKeyFormat == "" || d.bus == nil {
		return nil
	}
	key := revalidation.InterpolateKey(settings.RevalidateKeyFormat, inv.Method().ParamNames(), inv.Arguments())
	return []*revalidation.Monitor{revalidation.NewMonitor(d.bus, key)}
}

// DefaultName is the name the default strategy is registered under.
const DefaultName = ""

// Registry resolves strategies by name.
type Registry struct {
	strategies *xsync.MapOf[string, Strategy]
}

// NewRegistry returns a registry whose unnamed entry is def.
func NewRegistry(def Strategy) *Registry {
	r := &Registry{strategies: xsync.NewMapOf[string, Strategy]()}
	r.strategies.Store(DefaultName, def)
	return r
}

func (r *Registry) Register(name string, s Strategy) {
	r.strategies.Store(name, s)
}

// Resolve fails with a configuration error for unknown names.
func (r *Registry) Resolve(name string) (Strategy, error) {
	if s, ok := r.strategies.Load(name); ok {
		return s, nil
	}
	return nil, cache.NewConfigurationError(cache.TextCodeStrategyUnresolved,
		fmt.Sprintf("cache strategy %q is not registered", name))
}
