package httpcache

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/phoenix"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Diagnostic headers.
const (
	HeaderHit     = "X-Flatwhite-Hit"
	HeaderWarning = "X-Flatwhite-Warning"
	HeaderMessage = "X-Flatwhite-Message"
	HeaderPhoenix = "X-Flatwhite-Phoenix"
)

const (
	staleWarning          = `110 - "Response is Stale"`
	staleMessage          = "Response is Stale"
	onlyIfCachedMiss      = "no cached response available for only-if-cached request"
	phoenixRefreshPending = "refreshing"
)

// Outcome is the kind of decision made for a request.
type Outcome int

const (
	// NoResponse means the caller must run the handler.
	NoResponse Outcome = iota
	NotModified
	GatewayTimeout
	ServeStale
	ServeFresh
)

func (o Outcome) String() string {
	switch o {
	case NoResponse:
		return "no_response"
	case NotModified:
		return "not_modified"
	case GatewayTimeout:
		return "gateway_timeout"
	case ServeStale:
		return "serve_stale"
	case ServeFresh:
		return "serve_fresh"
	}
	return "outcome(" + strconv.Itoa(int(o)) + ")"
}

// Decision is the evaluator's answer for one request.
type Decision struct {
	Outcome  Outcome
	Entry    *cache.Entry
	Response *Response
	// Header holds the headers the decision adds to the response.
	Header http.Header
}

// Write sends the decision. It must not be called for NoResponse.
func (d Decision) Write(w http.ResponseWriter, r *http.Request) {
	switch d.Outcome {
	case NotModified:
		copyHeader(w.Header(), d.Header)
		w.WriteHeader(http.StatusNotModified)
	case GatewayTimeout:
		copyHeader(w.Header(), d.Header)
		w.WriteHeader(http.StatusGatewayTimeout)
	case ServeStale, ServeFresh:
		d.Response.WriteTo(w, d.Header, r.Method != http.MethodHead)
	}
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		dst[name] = append([]string(nil), values...)
	}
}

// Request is the input of one evaluation.
type Request struct {
	HTTP  *http.Request
	Key   string
	Store cache.AsyncStore
	// Phoenix describes how to refresh a stale entry. Nil disables
	// background refreshes.
	Phoenix func(entry *cache.Entry) phoenix.Info
}

// Evaluator turns a stored response and the request's cache directives into
// a Decision. Rules are applied in order, the first that decides wins:
//
//  1. no-cache, no-store or max-age=0 bypass the cache, unless the entry
//     ignores revalidation requests.
//  2. An If-None-Match tag naming a stored entry with the same checksum
//     yields 304.
//  3. Without an entry, only-if-cached yields 504; otherwise the handler runs.
//  4. A stale entry is served with a staleness warning and refreshed in the
//     background.
//  5. A fresh entry that cannot satisfy min-fresh sends the request to the
//     handler.
//  6. Otherwise the fresh entry is served.
type Evaluator struct {
	stores    *cache.StoreProvider
	phoenixes *phoenix.Registry
	keys      *xsync.MapOf[string, string]
	clock     cache.Clock
	logger    zerolog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

func WithClock(clock cache.Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(logger zerolog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func NewEvaluator(stores *cache.StoreProvider, phoenixes *phoenix.Registry, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		stores:    stores,
		phoenixes: phoenixes,
		keys:      xsync.NewMapOf[string, string](),
		clock:     cache.RealClock{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Remember indexes key by its hash so ETags can be resolved without
// scanning stores.
func (e *Evaluator) Remember(key string) {
	e.keys.Store(cache.Digest([]byte(key)), key)
}

func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	directives := ParseRequestDirectives(req.HTTP.Header)

	entry, resp, found, err := e.load(ctx, req.Store, req.Key)
	if err != nil {
		return Decision{Outcome: NoResponse}, err
	}

	// 1
	if directives.WantsRevalidation() && !(found && entry.IgnoreRevalidationRequest) {
		return Decision{Outcome: NoResponse}, nil
	}

	// 2
	if inm := req.HTTP.Header.Get("If-None-Match"); inm != "" {
		for _, tag := range ParseIfNoneMatch(inm) {
			if matched, ok := e.resolveTag(ctx, tag); ok {
				h := http.Header{}
				h.Set("ETag", tag.String())
				h.Set(HeaderHit, "true")
				return Decision{Outcome: NotModified, Entry: matched, Header: h}, nil
			}
		}
	}

	// 3
	if !found {
		if directives.OnlyIfCached {
			h := http.Header{}
			h.Set(HeaderMessage, onlyIfCachedMiss)
			return Decision{Outcome: GatewayTimeout, Header: h}, nil
		}
		return Decision{Outcome: NoResponse}, nil
	}

	now := e.clock.Now()
	h := http.Header{}
	h.Set("ETag", EntryETag(entry).String())
	h.Set(HeaderHit, "true")
	h.Set("Age", strconv.FormatInt(int64(entry.Age(now)/time.Second), 10))

	// 4
	if entry.IsStale(now) {
		overrun := entry.Age(now) - entry.MaxAge
		acceptsStale := directives.AcceptsStale(overrun)
		// Entries past the revalidate window are kept for stale-if-error;
		// only an explicit max-stale accepts them here.
		if !entry.IsServable(now) && !acceptsStale {
			return Decision{Outcome: NoResponse}, nil
		}

		h.Set("Warning", staleWarning)
		h.Set(HeaderWarning, staleMessage)
		cc := "max-age=" + seconds(entry.MaxAge)
		if entry.StaleWhileRevalidate > 0 && acceptsStale {
			cc += ", stale-while-revalidate=" + seconds(entry.StaleWhileRevalidate)
		}
		h.Set("Cache-Control", cc)

		if e.refresh(ctx, req, entry) {
			h.Set(HeaderPhoenix, phoenixRefreshPending)
		}
		return Decision{Outcome: ServeStale, Entry: entry, Response: resp, Header: h}, nil
	}

	// 5
	if directives.MinFresh != nil && entry.Remaining(now) < *directives.MinFresh {
		return Decision{Outcome: NoResponse}, nil
	}

	// 6
	h.Set("Cache-Control", "max-age="+seconds(entry.MaxAge))
	return Decision{Outcome: ServeFresh, Entry: entry, Response: resp, Header: h}, nil
}

func (e *Evaluator) load(ctx context.Context, store cache.AsyncStore, key string) (*cache.Entry, *Response, bool, error) {
	stored, ok, err := cache.GetEntry(ctx, store, key)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	entry, resp, ok := responseEntry(stored)
	if !ok {
		e.logger.Warn().Str("key", key).Msg("stored entry is not an HTTP response")
		return nil, nil, false, nil
	}
	return entry, resp, true, nil
}

// resolveTag finds the entry named by tag and reports whether the tag is
// its current version.
func (e *Evaluator) resolveTag(ctx context.Context, tag ETag) (*cache.Entry, bool) {
	store, ok := e.stores.GetAsyncStore(tag.StoreID)
	if !ok {
		return nil, false
	}

	key, ok := e.keys.Load(tag.HashedKey)
	if !ok {
		key, ok = e.scanForKey(ctx, store, tag.HashedKey)
		if !ok {
			return nil, false
		}
	}

	entry, _, found, err := e.load(ctx, store, key)
	if err != nil || !found {
		return nil, false
	}
	if !entry.IsServable(e.clock.Now()) || !tag.Matches(entry) {
		return nil, false
	}
	return entry, true
}

func (e *Evaluator) scanForKey(ctx context.Context, store cache.AsyncStore, hashedKey string) (string, bool) {
	items, err := store.GetAll(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Int("store_id", store.StoreID()).Msg("scan store for etag")
		return "", false
	}
	for _, item := range items {
		if cache.Digest([]byte(item.Key)) == hashedKey {
			e.keys.Store(hashedKey, item.Key)
			return item.Key, true
		}
	}
	return "", false
}

// refresh makes sure a phoenix exists for entry and asks it to refresh.
func (e *Evaluator) refresh(ctx context.Context, req Request, entry *cache.Entry) bool {
	if req.Phoenix == nil || entry.StaleWhileRevalidate <= 0 || e.phoenixes == nil {
		return false
	}
	p, created := e.phoenixes.GetOrCreate(req.Phoenix(entry), req.Store)
	if created {
		e.logger.Debug().Str("key", req.Key).Msg("phoenix created for stale response")
	}

	seen := entry.CreatedAt
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := p.RebornStale(bg, seen); err != nil {
			e.logger.Debug().Err(err).Str("key", req.Key).Msg("stale response refresh failed")
		}
	}()
	return true
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%d", int64(d/time.Second))
}
