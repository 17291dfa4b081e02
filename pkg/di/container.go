package di

import (
	"context"
	"errors"
	"reflect"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/httpcache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/goliatone/go-flatwhite/internal/cacheinfra"
	"github.com/goliatone/go-flatwhite/methodcache"
	"github.com/goliatone/go-flatwhite/phoenix"
	"github.com/goliatone/go-flatwhite/revalidation"
	"github.com/goliatone/go-flatwhite/strategy"
	"github.com/rs/zerolog"
)

// Container is the process-wide caching context. It owns the stores, the
// settings registry, the revalidation bus, the phoenix registry and the
// pipeline, and builds them in this order:
//
//	logger, clock, stores, settings, key builder, locks, bus, activator,
//	phoenixes, strategies, output cache, pipeline, interceptor, evaluator
//
// The method cache, the HTTP middleware and the phoenixes share one keyed
// lock, so a key is computed or written by one of them at a time.
//
// Tests create one container each, or call Reset between cases.
type Container struct {
	config cache.Config
	opts   options

	logger      zerolog.Logger
	clock       cache.Clock
	stores      *cache.StoreProvider
	settings    *cache.SettingsRegistry
	keyBuilder  *cache.DefaultKeyBuilder
	locks       *cache.KeyedLock
	bus         *revalidation.Bus
	activator   *interception.FactoryActivator
	phoenixes   *phoenix.Registry
	strategies  *strategy.Registry
	outputCache *methodcache.OutputCache
	pipeline    *interception.Pipeline
	interceptor *methodcache.Interceptor
	evaluator   *httpcache.Evaluator

	closers []func() error
}

// Option customizes a Container.
type Option func(*options)

type options struct {
	logger           *zerolog.Logger
	clock            cache.Clock
	stores           []cache.Store
	asyncStores      []cache.AsyncStore
	actionFilters    []interception.ActionFilter
	exceptionFilters []interception.ExceptionFilter
	strategies       map[string]strategy.Strategy
	generators       map[reflect.Type]cache.HashCodeGenerator
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

func WithClock(clock cache.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithStore registers an additional store. Its id must not clash with the
// configured stores.
func WithStore(store cache.Store) Option {
	return func(o *options) {
		o.stores = append(o.stores, store)
	}
}

func WithAsyncStore(store cache.AsyncStore) Option {
	return func(o *options) {
		o.asyncStores = append(o.asyncStores, store)
	}
}

// WithActionFilters adds filters around every intercepted call.
func WithActionFilters(filters ...interception.ActionFilter) Option {
	return func(o *options) {
		o.actionFilters = append(o.actionFilters, filters...)
	}
}

func WithExceptionFilters(filters ...interception.ExceptionFilter) Option {
	return func(o *options) {
		o.exceptionFilters = append(o.exceptionFilters, filters...)
	}
}

// WithStrategy registers a named strategy, selected by Settings.Strategy.
func WithStrategy(name string, s strategy.Strategy) Option {
	return func(o *options) {
		if o.strategies == nil {
			o.strategies = map[string]strategy.Strategy{}
		}
		o.strategies[name] = s
	}
}

// WithHashCodeGenerator registers a key generator for arguments of type t.
func WithHashCodeGenerator(t reflect.Type, g cache.HashCodeGenerator) Option {
	return func(o *options) {
		if o.generators == nil {
			o.generators = map[reflect.Type]cache.HashCodeGenerator{}
		}
		o.generators[t] = g
	}
}

// NewContainer creates a new container from config. Optional stores are
// opened when their configuration enables them.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Container{config: config}
	for _, opt := range opts {
		opt(&c.opts)
	}
	if err := c.build(context.Background()); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDefaults creates a container from FLATWHITE_* environment
// variables over DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	config, err := cache.LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewContainer(config, opts...)
}

func (c *Container) build(ctx context.Context) error {
	if c.opts.logger != nil {
		c.logger = *c.opts.logger
	} else {
		logger, err := NewLogger(c.config)
		if err != nil {
			return err
		}
		c.logger = logger
	}

	c.clock = c.opts.clock
	if c.clock == nil {
		c.clock = cache.RealClock{}
	}

	if err := c.buildStores(ctx); err != nil {
		return err
	}

	c.settings = cache.NewSettingsRegistry()

	kbOpts := make([]cache.KeyBuilderOption, 0, len(c.opts.generators))
	for t, g := range c.opts.generators {
		kbOpts = append(kbOpts, cache.WithHashCodeGenerator(t, g))
	}
	c.keyBuilder = cache.NewDefaultKeyBuilder(kbOpts...)
	c.locks = cache.NewKeyedLock()

	c.bus = revalidation.NewBus(revalidation.WithLogger(c.component("revalidation")))
	c.activator = interception.NewFactoryActivator()
	c.phoenixes = phoenix.NewRegistry(
		phoenix.WithClock(c.clock),
		phoenix.WithActivator(c.activator),
		phoenix.WithLocks(c.locks),
		phoenix.WithLogger(c.component("phoenix")),
	)

	c.strategies = strategy.NewRegistry(strategy.NewDefault(c.stores, c.bus,
		strategy.WithKeyBuilder(c.keyBuilder),
		strategy.WithLogger(c.component("strategy")),
	))
	for name, s := range c.opts.strategies {
		c.strategies.Register(name, s)
	}

	c.outputCache = methodcache.NewOutputCache(c.strategies, c.phoenixes,
		methodcache.WithClock(c.clock),
		methodcache.WithLocks(c.locks),
		methodcache.WithLogger(c.component("output_cache")),
	)

	actionFilters := append([]interception.ActionFilter{c.outputCache}, c.opts.actionFilters...)
	exceptionFilters := append([]interception.ExceptionFilter{c.outputCache}, c.opts.exceptionFilters...)
	c.pipeline = interception.NewPipeline(
		interception.WithActionFilters(actionFilters...),
		interception.WithExceptionFilters(exceptionFilters...),
		interception.WithLogger(c.component("pipeline")),
	)
	c.interceptor = methodcache.NewInterceptor(c.pipeline, c.settings)

	c.evaluator = httpcache.NewEvaluator(c.stores, c.phoenixes,
		httpcache.WithClock(c.clock),
		httpcache.WithLogger(c.component("http")),
	)

	c.logger.Debug().
		Int("stores", len(c.stores.AsyncStores())).
		Msg("flatwhite container ready")
	return nil
}

func (c *Container) buildStores(ctx context.Context) error {
	c.stores = cache.NewStoreProvider()

	memoryConfig := cacheinfra.Config{
		ID:                 cache.DefaultStoreID,
		Capacity:           c.config.Capacity,
		NumShards:          c.config.NumShards,
		TTL:                c.config.RetentionTTL,
		EvictionPercentage: c.config.EvictionPercentage,
		EvictionInterval:   c.config.EvictionInterval,
	}
	memory, err := cacheinfra.NewMemoryStore(memoryConfig, c.clock)
	if err != nil {
		return err
	}
	if err := c.stores.RegisterStore(memory); err != nil {
		return err
	}

	if cfg := c.config.LRU; cfg.Enabled() {
		s, err := cacheinfra.NewLRUStore(cfg.ID, cfg.Size, c.clock)
		if err != nil {
			return err
		}
		if err := c.stores.RegisterStore(s); err != nil {
			return err
		}
	}

	if cfg := c.config.Otter; cfg.Enabled() {
		s, err := cacheinfra.NewOtterStore(cfg.ID, cfg.Size, c.clock)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func() error { s.Close(); return nil })
		if err := c.stores.RegisterStore(s); err != nil {
			return err
		}
	}

	if cfg := c.config.Ristretto; cfg.Enabled() {
		s, err := cacheinfra.NewRistrettoStore(cfg.ID, cfg.Size, c.clock)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func() error { s.Close(); return nil })
		if err := c.stores.RegisterStore(s); err != nil {
			return err
		}
	}

	if cfg := c.config.SQL; cfg.Enabled() {
		s, err := cacheinfra.OpenSQLStore(ctx, cfg.ID, cfg.Driver, cfg.DSN, c.clock)
		if err != nil {
			return cache.WrapStoreError(err, "open sql store")
		}
		c.closers = append(c.closers, s.Close)
		if err := c.stores.RegisterAsyncStore(s); err != nil {
			return err
		}
	}

	for _, s := range c.opts.stores {
		if err := c.stores.RegisterStore(s); err != nil {
			return err
		}
	}
	for _, s := range c.opts.asyncStores {
		if err := c.stores.RegisterAsyncStore(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) component(name string) zerolog.Logger {
	return c.logger.With().Str("component", name).Logger()
}

// Register records the cache settings of method. A zero Duration takes the
// configured default.
func (c *Container) Register(method *interception.Method, settings cache.Settings) error {
	return c.settings.Register(method.ID(), c.config.ApplyDefaults(settings))
}

// RegisterFactory sets how phoenixes obtain a fresh instance of
// declaringType when refreshing its methods.
func (c *Container) RegisterFactory(declaringType string, factory interception.Factory) {
	c.activator.Register(declaringType, factory)
}

// Middleware returns HTTP caching middleware with settings. A zero Duration
// takes the configured default.
func (c *Container) Middleware(settings cache.Settings) (*httpcache.Middleware, error) {
	return httpcache.NewMiddleware(c.evaluator, c.strategies, c.phoenixes, c.config.ApplyDefaults(settings),
		httpcache.WithMiddlewareClock(c.clock),
		httpcache.WithMiddlewareLocks(c.locks),
		httpcache.WithMiddlewareLogger(c.component("http")),
	)
}

// Reset disposes every phoenix and monitor and empties the stores,
// returning the container to its initial state.
func (c *Container) Reset(ctx context.Context) error {
	c.outputCache.Close()
	c.phoenixes.DisposeAll()

	var errs []error
	for _, store := range c.stores.AsyncStores() {
		items, err := store.GetAll(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, item := range items {
			if err := store.Remove(ctx, item.Key); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close stops background work and releases the stores.
func (c *Container) Close() error {
	if c.outputCache != nil {
		c.outputCache.Close()
	}
	if c.phoenixes != nil {
		c.phoenixes.DisposeAll()
	}

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) Config() cache.Config                      { return c.config }
func (c *Container) Logger() zerolog.Logger                    { return c.logger }
func (c *Container) Clock() cache.Clock                        { return c.clock }
func (c *Container) Stores() *cache.StoreProvider              { return c.stores }
func (c *Container) Settings() *cache.SettingsRegistry         { return c.settings }
func (c *Container) KeyBuilder() cache.KeyBuilder              { return c.keyBuilder }
func (c *Container) Bus() *revalidation.Bus                    { return c.bus }
func (c *Container) Activator() *interception.FactoryActivator { return c.activator }
func (c *Container) Phoenixes() *phoenix.Registry              { return c.phoenixes }
func (c *Container) Strategies() *strategy.Registry            { return c.strategies }
func (c *Container) Pipeline() *interception.Pipeline          { return c.pipeline }
func (c *Container) Interceptor() *methodcache.Interceptor     { return c.interceptor }
func (c *Container) Evaluator() *httpcache.Evaluator           { return c.evaluator }
