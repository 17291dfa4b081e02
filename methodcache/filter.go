package methodcache

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/goliatone/go-flatwhite/phoenix"
	"github.com/goliatone/go-flatwhite/revalidation"
	"github.com/goliatone/go-flatwhite/strategy"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// DefaultOrder is the filter order of the output cache. Filters that must
// see every call, cached or not, use a lower order.
const DefaultOrder = 1000

const callStateKey = "flatwhite.output_cache"

// callState travels from OnExecuting to OnExecuted and OnException.
type callState struct {
	key      string
	store    cache.AsyncStore
	settings cache.Settings
	strategy strategy.Strategy
	// miss is set once the compute lock is held and no servable entry was
	// found, so the result must be stored.
	miss bool
	// fallback is an entry past its stale-while-revalidate window, kept to
	// replace a failed call within its stale-if-error window.
	fallback *cache.Entry
}

// OutputCache is the action and exception filter that serves calls from the
// cache. On a miss only one caller per key runs the real call; the others
// wait and read the stored result.
type OutputCache struct {
	strategies *strategy.Registry
	phoenixes  *phoenix.Registry
	locks      *cache.KeyedLock
	watches    *xsync.MapOf[string, *watch]
	clock      cache.Clock
	logger     zerolog.Logger
	order      int
}

// Option configures an OutputCache.
type Option func(*OutputCache)

func WithClock(clock cache.Clock) Option {
	return func(f *OutputCache) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithLocks sets the per key compute lock. Share it with every other writer
// of the same stores.
func WithLocks(locks *cache.KeyedLock) Option {
	return func(f *OutputCache) {
		if locks != nil {
			f.locks = locks
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(f *OutputCache) {
		f.logger = logger
	}
}

func WithOrder(order int) Option {
	return func(f *OutputCache) {
		f.order = order
	}
}

func NewOutputCache(strategies *strategy.Registry, phoenixes *phoenix.Registry, opts ...Option) *OutputCache {
	f := &OutputCache{
		strategies: strategies,
		phoenixes:  phoenixes,
		locks:      cache.NewKeyedLock(),
		watches:    xsync.NewMapOf[string, *watch](),
		clock:      cache.RealClock{},
		logger:     zerolog.Nop(),
		order:      DefaultOrder,
	}
	for _, opt := range opts {
		opt(f)
	}
	if phoenixes != nil {
		phoenixes.OnDispose(f.phoenixDisposed)
	}
	return f
}

func (f *OutputCache) Order() int { return f.order }

func (f *OutputCache) OnExecuting(ctx context.Context, ac *interception.ActionContext) error {
	settings, ok := cache.SettingsFrom(ac.Values)
	if !ok || settings.Duration <= 0 {
		return nil
	}

	st, err := f.strategies.Resolve(settings.Strategy)
	if err != nil {
		return err
	}
	if !st.CanCache(ac.Invocation, ac.Values) {
		return nil
	}

	key, err := st.KeyBuilder().GetCacheKey(ac.Invocation, ac.Values)
	if err != nil {
		return err
	}
	store, err := st.GetAsyncCacheStore(ac.Invocation, ac.Values)
	if err != nil {
		return err
	}

	state := &callState{key: key, store: store, settings: settings, strategy: st}
	ac.Items[callStateKey] = state

	if f.serve(ctx, ac, state) {
		return nil
	}

	unlock, err := f.locks.Lock(ctx, cache.LockKey(store.StoreID(), key))
	if err != nil {
		return err
	}
	ac.Defer(unlock)

	// Another caller may have stored the value while this one waited.
	if f.serve(ctx, ac, state) {
		return nil
	}
	state.miss = true
	return nil
}

// serve sets the call result from a servable entry. Stale entries are
// served as they are and refreshed in the background.
func (f *OutputCache) serve(ctx context.Context, ac *interception.ActionContext, state *callState) bool {
	entry, ok, err := cache.GetEntry(ctx, state.store, state.key)
	if err != nil {
		f.logger.Warn().Err(err).Str("key", state.key).Msg("cache lookup failed, calling through")
		return false
	}
	if !ok {
		return false
	}

	now := f.clock.Now()
	if !entry.IsServable(now) {
		state.fallback = entry
		return false
	}

	ac.SetResult(interception.ValueResult(entry.Payload))
	if entry.IsStale(now) {
		f.refreshStale(ctx, ac, state, entry)
	}
	return true
}

func (f *OutputCache) refreshStale(ctx context.Context, ac *interception.ActionContext, state *callState, entry *cache.Entry) {
	if state.settings.StaleWhileRevalidate <= 0 {
		return
	}
	p, _ := f.phoenixes.GetOrCreate(f.phoenixInfo(ac, state, entry.CreatedAt), state.store)

	seen := entry.CreatedAt
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := p.RebornStale(bg, seen); err != nil {
			f.logger.Debug().Err(err).Str("key", state.key).Msg("stale refresh failed")
		}
	}()
}

func (f *OutputCache) OnExecuted(ctx context.Context, ac *interception.ActionContext) error {
	state, ok := ac.Items[callStateKey].(*callState)
	if !ok || !state.miss {
		return nil
	}

	r, _ := ac.Result()
	v, err := r.Await(ctx)
	if err != nil {
		return err
	}
	if cache.IsNil(v) {
		return nil
	}

	entry := cache.NewEntry(state.key, v, f.clock.Now(), state.store.StoreID(), state.settings)
	if err := cache.SetEntry(ctx, state.store, entry); err != nil {
		f.logger.Warn().Err(err).Str("key", state.key).Msg("cache write failed")
		return nil
	}

	f.attachMonitors(ac, state, entry)
	if state.settings.StaleWhileRevalidate > 0 {
		f.phoenixes.Create(f.phoenixInfo(ac, state, entry.CreatedAt), state.store)
	}

	f.logger.Debug().
		Str("key", state.key).
		Int("store_id", state.store.StoreID()).
		Dur("max_age", state.settings.Duration).
		Msg("cached call result")
	return nil
}

// OnException serves the previous entry when the call failed and the entry
// is still within its stale-if-error window.
func (f *OutputCache) OnException(_ context.Context, ec *interception.ExceptionContext) error {
	state, ok := ec.Items[callStateKey].(*callState)
	if !ok || state.fallback == nil {
		return nil
	}
	if !state.fallback.IsWithinStaleIfErrorWindow(f.clock.Now()) {
		return nil
	}

	f.logger.Warn().Err(ec.Err).Str("key", state.key).Msg("serving stale entry after call failure")
	ec.Handle(interception.ValueResult(state.fallback.Payload))
	return nil
}

func (f *OutputCache) phoenixInfo(ac *interception.ActionContext, state *callState, createdAt time.Time) phoenix.Info {
	return phoenix.Info{
		Key:       state.key,
		Method:    ac.Invocation.Method(),
		Target:    ac.Invocation.Target(),
		Args:      ac.Invocation.Arguments(),
		Settings:  state.settings,
		CreatedAt: createdAt,
	}
}

// watch holds the change monitors of one stored key until the entry is
// gone from its store.
type watch struct {
	store    cache.AsyncStore
	monitors []*revalidation.Monitor

	mu    sync.Mutex
	timer cache.Timer
	done  bool
}

func (w *watch) dispose() {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	for _, m := range w.monitors {
		m.Dispose()
	}
}

func (f *OutputCache) attachMonitors(ac *interception.ActionContext, state *callState, entry *cache.Entry) {
	monitors := state.strategy.GetChangeMonitors(ac.Invocation, ac.Values)
	if len(monitors) == 0 {
		f.disposeMonitors(state.key)
		return
	}
	for _, m := range monitors {
		m.OnChanged(f.revalidateOrDie(state.store, state.key))
	}

	w := &watch{store: state.store, monitors: monitors}
	if old, loaded := f.watches.LoadAndStore(state.key, w); loaded && old != w {
		old.dispose()
	}
	f.armExpiry(state.key, w, entry.ExpiresAt())
}

// armExpiry checks at expiresAt whether the watched entry is still stored.
// Refreshed entries live longer, so the check is rearmed at their expiry.
func (f *OutputCache) armExpiry(key string, w *watch, expiresAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = f.clock.AfterFunc(expiresAt.Sub(f.clock.Now()), func() {
		f.checkWatch(key, w)
	})
}

func (f *OutputCache) checkWatch(key string, w *watch) {
	current, ok := f.watches.Load(key)
	if !ok || current != w {
		return
	}

	entry, found, err := cache.GetEntry(context.Background(), w.store, key)
	if err != nil {
		f.logger.Debug().Err(err).Str("key", key).Msg("check watched entry")
		f.armExpiry(key, w, f.clock.Now().Add(time.Second))
		return
	}
	if found && entry.ExpiresAt().After(f.clock.Now()) {
		f.armExpiry(key, w, entry.ExpiresAt())
		return
	}
	f.dropWatch(key, w)
}

// phoenixDisposed releases the monitors of key when its phoenix went away
// together with the entry.
func (f *OutputCache) phoenixDisposed(key string) {
	w, ok := f.watches.Load(key)
	if !ok {
		return
	}
	found, err := w.store.Contains(context.Background(), key)
	if err != nil || found {
		return
	}
	f.dropWatch(key, w)
}

// dropWatch disposes w unless it was replaced meanwhile.
func (f *OutputCache) dropWatch(key string, w *watch) {
	f.watches.Compute(key, func(current *watch, loaded bool) (*watch, bool) {
		return current, !loaded || current == w
	})
	w.dispose()
	f.logger.Debug().Str("key", key).Msg("released change monitors")
}

// revalidateOrDie refreshes the entry through its phoenix, or removes it
// when it has none.
func (f *OutputCache) revalidateOrDie(store cache.AsyncStore, key string) revalidation.Handler {
	return func(ctx context.Context, revalidationKey string) error {
		if p, ok := f.phoenixes.Get(key); ok {
			f.logger.Debug().Str("key", key).Str("revalidation_key", revalidationKey).Msg("revalidating entry")
			_, err := p.Reborn(ctx)
			return err
		}

		f.logger.Debug().Str("key", key).Str("revalidation_key", revalidationKey).Msg("removing revalidated entry")
		f.disposeMonitors(key)
		if err := store.Remove(ctx, key); err != nil {
			return cache.WrapStoreError(err, "remove revalidated entry")
		}
		return nil
	}
}

func (f *OutputCache) disposeMonitors(key string) {
	if w, ok := f.watches.LoadAndDelete(key); ok {
		w.dispose()
	}
}

// Watched counts the keys whose change monitors are still subscribed.
func (f *OutputCache) Watched() int {
	return f.watches.Size()
}

// Close disposes every change monitor attached by the filter.
func (f *OutputCache) Close() {
	f.watches.Range(func(key string, _ *watch) bool {
		f.disposeMonitors(key)
		return true
	})
}
