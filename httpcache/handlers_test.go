package httpcache_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/goliatone/go-flatwhite/httpcache"
	"github.com/goliatone/go-flatwhite/revalidation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHandler(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := httpcache.StatusHandler(func(context.Context) (any, error) {
			return map[string]int{"entries": 3}, nil
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_flatwhite/status", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"entries":3}`, rec.Body.String())
	})

	t.Run("error", func(t *testing.T) {
		h := httpcache.StatusHandler(func(context.Context) (any, error) {
			return nil, errors.New("store offline")
		})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_flatwhite/status", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"store offline"}`, rec.Body.String())
	})
}

type revalidated struct {
	mu   sync.Mutex
	keys []string
}

func (r *revalidated) watch(bus *revalidation.Bus, keys ...string) {
	for _, key := range keys {
		m := revalidation.NewMonitor(bus, key)
		m.OnChanged(func(_ context.Context, key string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.keys = append(r.keys, key)
			return nil
		})
	}
}

func (r *revalidated) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func postRevalidate(h http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRevalidateHandler(t *testing.T) {
	t.Run("method not allowed", func(t *testing.T) {
		h := httpcache.RevalidateHandler(revalidation.NewBus(), zerolog.Nop())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_flatwhite/revalidate", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	})

	t.Run("no keys", func(t *testing.T) {
		h := httpcache.RevalidateHandler(revalidation.NewBus(), zerolog.Nop())
		rec := postRevalidate(h, "/_flatwhite/revalidate", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		h := httpcache.RevalidateHandler(revalidation.NewBus(), zerolog.Nop())
		rec := postRevalidate(h, "/_flatwhite/revalidate", `{"keys":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid body")
	})

	t.Run("query keys", func(t *testing.T) {
		bus := revalidation.NewBus()
		var seen revalidated
		seen.watch(bus, "user:1", "users")
		h := httpcache.RevalidateHandler(bus, zerolog.Nop())

		rec := postRevalidate(h, "/_flatwhite/revalidate?key=user:1&key=users", "")

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.ElementsMatch(t, []string{"user:1", "users"}, seen.got())

		var resp struct {
			Keys        []string `json:"keys"`
			Subscribers int      `json:"subscribers"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, []string{"user:1", "users"}, resp.Keys)
		assert.Equal(t, 2, resp.Subscribers)
	})

	t.Run("body keys", func(t *testing.T) {
		bus := revalidation.NewBus()
		var seen revalidated
		seen.watch(bus, "user:1", "user:2")
		h := httpcache.RevalidateHandler(bus, zerolog.Nop())

		rec := postRevalidate(h, "/_flatwhite/revalidate?key=user:1", `{"keys":["user:2"]}`)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.ElementsMatch(t, []string{"user:1", "user:2"}, seen.got())
	})

	t.Run("async", func(t *testing.T) {
		bus := revalidation.NewBus()
		var seen revalidated
		seen.watch(bus, "users")
		h := httpcache.RevalidateHandler(bus, zerolog.Nop())

		rec := postRevalidate(h, "/_flatwhite/revalidate", `{"keys":["users"],"async":true}`)

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Eventually(t, func() bool {
			return len(seen.got()) == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("handler errors are not reported to the caller", func(t *testing.T) {
		bus := revalidation.NewBus()
		m := revalidation.NewMonitor(bus, "users")
		m.OnChanged(func(context.Context, string) error { return errors.New("boom") })
		h := httpcache.RevalidateHandler(bus, zerolog.Nop())

		rec := postRevalidate(h, "/_flatwhite/revalidate?key=users", "")

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})
}
