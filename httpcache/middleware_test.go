package httpcache_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/httpcache"
	"github.com/goliatone/go-flatwhite/phoenix"
	"github.com/goliatone/go-flatwhite/pkg/testsupport"
	"github.com/goliatone/go-flatwhite/revalidation"
	"github.com/goliatone/go-flatwhite/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type site struct {
	clock     *testsupport.FakeClock
	store     *testsupport.MapStore
	phoenixes *phoenix.Registry
	router    chi.Router
	renders   atomic.Int32
}

func newSite(t *testing.T, settings cache.Settings) *site {
	t.Helper()
	s := &site{clock: testsupport.NewFakeClock(time.Time{})}
	stores := cache.NewStoreProvider()
	s.store = testsupport.NewMapStore(cache.DefaultStoreID, s.clock)
	require.NoError(t, stores.RegisterStore(s.store))

	locks := cache.NewKeyedLock()
	s.phoenixes = phoenix.NewRegistry(phoenix.WithClock(s.clock), phoenix.WithLocks(locks))
	t.Cleanup(s.phoenixes.DisposeAll)
	strategies := strategy.NewRegistry(strategy.NewDefault(stores, revalidation.NewBus()))
	evaluator := httpcache.NewEvaluator(stores, s.phoenixes, httpcache.WithClock(s.clock))

	mw, err := httpcache.NewMiddleware(evaluator, strategies, s.phoenixes, settings,
		httpcache.WithMiddlewareClock(s.clock),
		httpcache.WithMiddlewareLocks(locks),
	)
	require.NoError(t, err)

	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.renders.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%s v%d", chi.URLParam(r, "slug"), n)
		if lang := r.URL.Query().Get("lang"); lang != "" {
			fmt.Fprintf(w, " %s", lang)
		}
	})

	r := chi.NewRouter()
	r.With(mw.Handler).Get("/pages/{slug}", page)
	r.With(mw.Handler).Head("/pages/{slug}", page)
	r.With(mw.Handler).Post("/pages/{slug}", page)
	r.With(mw.Handler).Get("/slow/{slug}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		page.ServeHTTP(w, r)
	})
	r.With(mw.Handler).Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		s.renders.Add(1)
		http.NotFound(w, nil)
	})
	r.With(mw.Handler).Get("/private", func(w http.ResponseWriter, _ *http.Request) {
		s.renders.Add(1)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte("secret"))
	})
	s.router = r
	return s
}

func (s *site) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for name, values := range header {
		req.Header[name] = values
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *site) get(target string) *httptest.ResponseRecorder {
	return s.do(http.MethodGet, target, nil)
}

func TestMiddleware_MissThenHit(t *testing.T) {
	s := newSite(t, pageSettings)

	first := s.get("/pages/home")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "home v1", first.Body.String())
	assert.Equal(t, "false", first.Header().Get(httpcache.HeaderHit))
	assert.Equal(t, "max-age=10", first.Header().Get("Cache-Control"))
	assert.NotEmpty(t, first.Header().Get("ETag"))

	s.clock.Advance(2 * time.Second)
	second := s.get("/pages/home")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "home v1", second.Body.String())
	assert.Equal(t, "true", second.Header().Get(httpcache.HeaderHit))
	assert.Equal(t, "2", second.Header().Get("Age"))
	assert.Equal(t, "text/plain", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))

	assert.Equal(t, int32(1), s.renders.Load())
	assert.True(t, s.store.Contains("http.pages_slug(string:home) :: "))
}

func TestMiddleware_ConcurrentColdRequestsRenderOnce(t *testing.T) {
	s := newSite(t, cache.Settings{Duration: 10 * time.Second, StaleWhileRevalidate: 5 * time.Second})

	const requests = 200
	bodies := make([]string, requests)
	codes := make([]int, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := s.do(http.MethodGet, "/slow/home", nil)
			codes[i] = rec.Code
			bodies[i] = rec.Body.String()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), s.renders.Load())
	for i := range bodies {
		assert.Equal(t, http.StatusOK, codes[i])
		assert.Equal(t, "home v1", bodies[i])
	}
	assert.Equal(t, 1, s.store.Len())
	assert.Equal(t, 1, s.phoenixes.Len())
}

func TestMiddleware_NotModified(t *testing.T) {
	s := newSite(t, pageSettings)
	tag := s.get("/pages/home").Header().Get("ETag")

	rec := s.do(http.MethodGet, "/pages/home", http.Header{"If-None-Match": {tag}})

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, tag, rec.Header().Get("ETag"))
	assert.Equal(t, int32(1), s.renders.Load())
}

func TestMiddleware_VariesByQuery(t *testing.T) {
	s := newSite(t, pageSettings)

	assert.Equal(t, "home v1 en", s.get("/pages/home?lang=en").Body.String())
	assert.Equal(t, "home v2 fr", s.get("/pages/home?lang=fr").Body.String())
	assert.Equal(t, "home v1 en", s.get("/pages/home?lang=en").Body.String())
	assert.Equal(t, "about v3", s.get("/pages/about").Body.String())
	assert.True(t, s.store.Contains("http.pages_slug(string:home, string:en) :: "))
}

func TestMiddleware_VaryByParamLimitsQuery(t *testing.T) {
	settings := pageSettings
	settings.VaryByParam = "slug"
	s := newSite(t, settings)

	assert.Equal(t, "home v1 en", s.get("/pages/home?lang=en").Body.String())
	assert.Equal(t, "home v1 en", s.get("/pages/home?lang=fr").Body.String())
	assert.Equal(t, int32(1), s.renders.Load())
}

func TestMiddleware_VaryByCustomHeader(t *testing.T) {
	settings := pageSettings
	settings.VaryByCustom = "headers.accept-language"
	s := newSite(t, settings)

	en := http.Header{"Accept-Language": {"en"}}
	de := http.Header{"Accept-Language": {"de"}}
	s.do(http.MethodGet, "/pages/home", en)
	s.do(http.MethodGet, "/pages/home", de)
	rec := s.do(http.MethodGet, "/pages/home", en)

	assert.Equal(t, "true", rec.Header().Get(httpcache.HeaderHit))
	assert.Equal(t, int32(2), s.renders.Load())
}

func TestMiddleware_OnlyIfCached(t *testing.T) {
	s := newSite(t, pageSettings)

	rec := s.do(http.MethodGet, "/pages/home", cc("only-if-cached"))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, int32(0), s.renders.Load())
}

func TestMiddleware_NoStoreRequestIsNotStored(t *testing.T) {
	s := newSite(t, pageSettings)

	rec := s.do(http.MethodGet, "/pages/home", cc("no-store"))

	assert.Equal(t, "home v1", rec.Body.String())
	assert.Equal(t, 0, s.store.Len())
}

func TestMiddleware_NoCacheRefreshesStoredResponse(t *testing.T) {
	s := newSite(t, pageSettings)
	s.get("/pages/home")

	rec := s.do(http.MethodGet, "/pages/home", cc("no-cache"))
	assert.Equal(t, "home v2", rec.Body.String())
	assert.Equal(t, "false", rec.Header().Get(httpcache.HeaderHit))

	assert.Equal(t, "home v2", s.get("/pages/home").Body.String())
	assert.Equal(t, int32(2), s.renders.Load())
}

func TestMiddleware_Head(t *testing.T) {
	s := newSite(t, pageSettings)
	s.get("/pages/home")

	rec := s.do(http.MethodHead, "/pages/home", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get(httpcache.HeaderHit))
	assert.Equal(t, int32(1), s.renders.Load())
}

func TestMiddleware_PostPassesThrough(t *testing.T) {
	s := newSite(t, pageSettings)

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/pages/home", nil)
		assert.Empty(t, rec.Header().Get(httpcache.HeaderHit))
	}
	assert.Equal(t, int32(2), s.renders.Load())
	assert.Equal(t, 0, s.store.Len())
}

func TestMiddleware_UncacheableResponses(t *testing.T) {
	for _, path := range []string{"/missing", "/private"} {
		t.Run(path, func(t *testing.T) {
			s := newSite(t, pageSettings)

			s.get(path)
			s.get(path)

			assert.Equal(t, int32(2), s.renders.Load())
			assert.Equal(t, 0, s.store.Len())
		})
	}
}

func TestMiddleware_ZeroDurationIsNotCached(t *testing.T) {
	s := newSite(t, cache.Settings{})

	s.get("/pages/home")
	rec := s.get("/pages/home")

	assert.Equal(t, "home v2", rec.Body.String())
	assert.Equal(t, 0, s.store.Len())
}

func TestMiddleware_StaleResponseIsRefreshed(t *testing.T) {
	s := newSite(t, pageSettings)
	s.get("/pages/home")
	_, ok := s.phoenixes.Get("http.pages_slug(string:home) :: ")
	require.True(t, ok, "a phoenix keeps the stored response warm")

	s.clock.Advance(12 * time.Second)
	stale := s.get("/pages/home")

	assert.Equal(t, "home v1", stale.Body.String())
	assert.Equal(t, "true", stale.Header().Get(httpcache.HeaderHit))
	assert.Equal(t, `110 - "Response is Stale"`, stale.Header().Get("Warning"))
	assert.Equal(t, "refreshing", stale.Header().Get(httpcache.HeaderPhoenix))

	assert.Eventually(t, func() bool {
		v, ok := s.store.Get("http.pages_slug(string:home) :: ")
		if !ok {
			return false
		}
		entry, ok := cache.AsEntry(v)
		if !ok {
			return false
		}
		resp, ok := entry.Payload.(*httpcache.Response)
		return ok && string(resp.Body) == "home v2"
	}, time.Second, 5*time.Millisecond)

	fresh := s.get("/pages/home")
	assert.Equal(t, "home v2", fresh.Body.String())
	assert.Empty(t, fresh.Header().Get("Warning"))
	assert.Equal(t, int32(2), s.renders.Load())
}

func TestMiddleware_DeadResponseIsRecomputed(t *testing.T) {
	s := newSite(t, pageSettings)
	s.get("/pages/home")

	s.clock.Advance(16 * time.Second)
	rec := s.get("/pages/home")

	assert.Equal(t, "home v2", rec.Body.String())
	assert.Equal(t, "false", rec.Header().Get(httpcache.HeaderHit))
}

func TestNewMiddleware_InvalidSettings(t *testing.T) {
	_, err := httpcache.NewMiddleware(nil, nil, nil, cache.Settings{Duration: -time.Second})

	require.Error(t, err)
	assert.True(t, cache.IsConfigurationError(err))
}

func TestMiddleware_UnknownStrategy(t *testing.T) {
	settings := pageSettings
	settings.Strategy = "edge"
	s := newSite(t, settings)

	rec := s.get("/pages/home")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int32(0), s.renders.Load())
}
