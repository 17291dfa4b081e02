package httpcache

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/goliatone/go-flatwhite/phoenix"
	"github.com/goliatone/go-flatwhite/strategy"
	"github.com/rs/zerolog"
)

// DeclaringType is the declaring type of every cached HTTP route.
const DeclaringType = "http"

// Middleware caches GET and HEAD responses of the wrapped handler. The
// stored response is evaluated before the handler runs, so hits never reach
// it.
//
// Route and query parameters are the method parameters of the request:
// VaryByParam names them, and an empty VaryByParam varies by all of them.
// VaryByCustom paths resolve against "query", "headers", "path" and "host".
type Middleware struct {
	evaluator  *Evaluator
	strategies *strategy.Registry
	phoenixes  *phoenix.Registry
	settings   cache.Settings
	locks      *cache.KeyedLock
	clock      cache.Clock
	logger     zerolog.Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

func WithMiddlewareClock(clock cache.Clock) MiddlewareOption {
	return func(m *Middleware) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithMiddlewareLocks sets the per key lock held while a missing response is
// rendered. Share it with every other writer of the same stores.
func WithMiddlewareLocks(locks *cache.KeyedLock) MiddlewareOption {
	return func(m *Middleware) {
		if locks != nil {
			m.locks = locks
		}
	}
}

func WithMiddlewareLogger(logger zerolog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

func NewMiddleware(evaluator *Evaluator, strategies *strategy.Registry, phoenixes *phoenix.Registry, settings cache.Settings, opts ...MiddlewareOption) (*Middleware, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.VaryByParam == "" {
		settings.VaryByParam = cache.VaryAll
	}
	m := &Middleware{
		evaluator:  evaluator,
		strategies: strategies,
		phoenixes:  phoenixes,
		settings:   settings,
		locks:      cache.NewKeyedLock(),
		clock:      cache.RealClock{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Handler wraps next. It has the signature chi expects from middleware.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		if err := m.serve(w, r, next); err != nil {
			m.logger.Error().Err(err).Str("path", r.URL.Path).Msg("http cache failed")
			if cache.IsConfigurationError(err) {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r)
		}
	})
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) error {
	ctx := r.Context()
	method, args := m.method(r)
	values := requestValues(r)
	cache.WithSettings(values, m.settings)

	st, err := m.strategies.Resolve(m.settings.Strategy)
	if err != nil {
		return err
	}
	inv := interception.NewInvocation(method, nil, args)
	if m.settings.Duration <= 0 || !st.CanCache(inv, values) {
		next.ServeHTTP(w, r)
		return nil
	}
	key, err := st.KeyBuilder().GetCacheKey(inv, values)
	if err != nil {
		return err
	}
	store, err := st.GetAsyncCacheStore(inv, values)
	if err != nil {
		return err
	}
	m.evaluator.Remember(key)

	target := &routeTarget{handler: next, request: detachRequest(r)}
	req := Request{
		HTTP:  r,
		Key:   key,
		Store: store,
		Phoenix: func(entry *cache.Entry) phoenix.Info {
			return phoenix.Info{
				Key:       key,
				Method:    method,
				Target:    target,
				Args:      args,
				Settings:  m.settings,
				CreatedAt: entry.CreatedAt,
			}
		},
	}
	if m.serveStored(w, r, req) {
		return nil
	}

	// Only one request per key renders a missing response; the others wait
	// and are served what it stored.
	unlock, err := m.locks.Lock(ctx, cache.LockKey(store.StoreID(), key))
	if err != nil {
		return err
	}
	defer unlock()
	if m.serveStored(w, r, req) {
		return nil
	}

	rec := newRecorder()
	next.ServeHTTP(rec, r)
	resp := rec.Response()

	extra := http.Header{}
	extra.Set(HeaderHit, "false")
	if resp.Cacheable() && !ParseRequestDirectives(r.Header).NoStore {
		entry := cache.NewEntry(key, resp, m.clock.Now(), store.StoreID(), m.settings)
		if err := cache.SetEntry(ctx, store, entry); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("store response")
		} else {
			extra.Set("ETag", EntryETag(entry).String())
			if resp.Header.Get("Cache-Control") == "" {
				extra.Set("Cache-Control", "max-age="+seconds(entry.MaxAge))
			}
			if m.settings.StaleWhileRevalidate > 0 {
				m.phoenixes.Create(req.Phoenix(entry), store)
			}
		}
	}
	unlock()
	resp.WriteTo(w, extra, r.Method != http.MethodHead)
	return nil
}

// serveStored writes the stored response when the evaluator decides one.
func (m *Middleware) serveStored(w http.ResponseWriter, r *http.Request, req Request) bool {
	decision, err := m.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", req.Key).Msg("evaluate cached response")
	}
	if decision.Outcome == NoResponse {
		return false
	}
	m.logger.Debug().Str("key", req.Key).Stringer("outcome", decision.Outcome).Msg("served from cache")
	decision.Write(w, r)
	return true
}

// method describes the matched route as a method whose parameters are the
// route and query parameters.
func (m *Middleware) method(r *http.Request) (*interception.Method, []any) {
	b := interception.NewMethod(DeclaringType, routeName(r)).
		Returns(interception.TypeOf[*Response]()).
		Invoke(invokeRoute)

	query := r.URL.Query()
	names := routeParams(r)
	seen := map[string]bool{}
	for _, name := range names {
		seen[name] = true
	}
	var queryNames []string
	for name := range query {
		if !seen[name] && m.settings.VariesBy(name) {
			queryNames = append(queryNames, name)
		}
	}
	sort.Strings(queryNames)
	names = append(names, queryNames...)

	args := make([]any, len(names))
	for i, name := range names {
		b.Param(name, interception.TypeOf[string]())
		if v := chi.URLParam(r, name); v != "" {
			args[i] = v
		} else {
			args[i] = query.Get(name)
		}
	}
	return b.Build(), args
}

// routeTarget is the refresh target of a cached route.
type routeTarget struct {
	handler http.Handler
	request *http.Request
}

// detachRequest clones r for replays that outlive it. chi recycles route
// contexts once a request completes, so the route context is copied too.
func detachRequest(r *http.Request) *http.Request {
	ctx := context.WithoutCancel(r.Context())
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		cp := chi.NewRouteContext()
		cp.Routes = rctx.Routes
		cp.RoutePath = rctx.RoutePath
		cp.RouteMethod = rctx.RouteMethod
		cp.RoutePatterns = append([]string(nil), rctx.RoutePatterns...)
		cp.URLParams.Keys = append([]string(nil), rctx.URLParams.Keys...)
		cp.URLParams.Values = append([]string(nil), rctx.URLParams.Values...)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, cp)
	}
	return r.Clone(ctx)
}

// invokeRoute replays the captured request. Non cacheable responses end the
// refresh cycle; server errors are retried.
func invokeRoute(ctx context.Context, target any, _ []any) (any, error) {
	t, ok := target.(*routeTarget)
	if !ok {
		return nil, fmt.Errorf("route refresh: unexpected target %T", target)
	}
	if rctx := chi.RouteContext(t.request.Context()); rctx != nil {
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	rec := newRecorder()
	t.handler.ServeHTTP(rec, t.request.Clone(ctx))
	resp := rec.Response()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("route refresh: status %d", resp.StatusCode)
	}
	if !resp.Cacheable() {
		return nil, nil
	}
	return resp, nil
}

func requestValues(r *http.Request) map[string]any {
	query := map[string]string{}
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	headers := map[string]string{}
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return map[string]any{
		"query":   query,
		"headers": headers,
		"path":    r.URL.Path,
		"host":    r.Host,
	}
}
