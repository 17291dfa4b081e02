package phoenix

import (
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Registry holds at most one live Phoenix per cache key.
type Registry struct {
	phoenixes    *xsync.MapOf[string, *Phoenix]
	clock        cache.Clock
	activator    interception.Activator
	retryBackoff time.Duration
	locks        *cache.KeyedLock
	logger       zerolog.Logger

	hooksMu sync.RWMutex
	hooks   []func(key string)
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(clock cache.Clock) Option {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithActivator sets the hook that produces fresh instances of a declaring
// type for refreshes. Without one, refreshes reuse the original target.
func WithActivator(activator interception.Activator) Option {
	return func(r *Registry) {
		r.activator = activator
	}
}

// WithLocks sets the per key lock taken around refresh writes. Share it with
// every other writer of the same stores.
func WithLocks(locks *cache.KeyedLock) Option {
	return func(r *Registry) {
		if locks != nil {
			r.locks = locks
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		phoenixes:    xsync.NewMapOf[string, *Phoenix](),
		clock:        cache.RealClock{},
		retryBackoff: RetryBackoff,
		locks:        cache.NewKeyedLock(),
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a phoenix for info.Key, disposing any phoenix it supersedes.
// A phoenix created without a stale-while-revalidate window is disposed at
// once.
func (r *Registry) Create(info Info, store cache.AsyncStore) *Phoenix {
	p := newPhoenix(r, info, store)
	if old, loaded := r.phoenixes.LoadAndStore(info.Key, p); loaded && old != p {
		old.Dispose()
	}

	if info.Settings.StaleWhileRevalidate <= 0 {
		p.Dispose()
		return p
	}

	p.mu.Lock()
	if !p.disposed {
		p.armIdleLocked()
	}
	p.mu.Unlock()

	r.logger.Debug().
		Str("key", info.Key).
		Str("phoenix_id", p.id).
		Bool("auto_refresh", info.Settings.AutoRefresh).
		Msg("phoenix created")
	return p
}

// GetOrCreate returns the live phoenix for info.Key, creating one when
// absent. The boolean reports whether a phoenix was created.
func (r *Registry) GetOrCreate(info Info, store cache.AsyncStore) (*Phoenix, bool) {
	created := false
	p, _ := r.phoenixes.LoadOrCompute(info.Key, func() *Phoenix {
		created = true
		return newPhoenix(r, info, store)
	})
	if !created {
		return p, false
	}

	if info.Settings.StaleWhileRevalidate <= 0 {
		p.Dispose()
		return p, true
	}
	p.mu.Lock()
	if !p.disposed {
		p.armIdleLocked()
	}
	p.mu.Unlock()
	return p, true
}

func (r *Registry) Get(key string) (*Phoenix, bool) {
	return r.phoenixes.Load(key)
}

// All lists the live phoenixes ordered by key.
func (r *Registry) All() []*Phoenix {
	var out []*Phoenix
	r.phoenixes.Range(func(_ string, p *Phoenix) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].info.Key < out[j].info.Key })
	return out
}

func (r *Registry) Len() int {
	return r.phoenixes.Size()
}

// DisposeAll disposes every phoenix.
func (r *Registry) DisposeAll() {
	for _, p := range r.All() {
		p.Dispose()
	}
}

// OnDispose registers fn to run with the key of every phoenix that is
// disposed without being superseded by a newer one.
func (r *Registry) OnDispose(fn func(key string)) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Registry) disposed(key string) {
	r.hooksMu.RLock()
	hooks := append([]func(string){}, r.hooks...)
	r.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(key)
	}
}

// remove drops p unless it was already superseded. It reports whether p was
// the registered phoenix for its key.
func (r *Registry) remove(p *Phoenix) bool {
	removed := false
	r.phoenixes.Compute(p.info.Key, func(current *Phoenix, loaded bool) (*Phoenix, bool) {
		if loaded && current == p {
			removed = true
			return current, true
		}
		return current, !loaded
	})
	return removed
}
