package httpcache_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-flatwhite/httpcache"
	"github.com/goliatone/go-flatwhite/pkg/testsupport"
	"github.com/stretchr/testify/assert"
)

type directivesCase struct {
	Name   string              `json:"name"`
	Header map[string][]string `json:"header"`
	Want   struct {
		NoCache       bool   `json:"no_cache"`
		NoStore       bool   `json:"no_store"`
		MaxAge        *int64 `json:"max_age"`
		MaxStale      bool   `json:"max_stale"`
		MaxStaleLimit *int64 `json:"max_stale_limit"`
		MinFresh      *int64 `json:"min_fresh"`
		OnlyIfCached  bool   `json:"only_if_cached"`
		Revalidate    bool   `json:"revalidate"`
	} `json:"want"`
}

func secondsPtr(v *int64) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v) * time.Second
	return &d
}

func TestParseRequestDirectives(t *testing.T) {
	var cases []directivesCase
	testsupport.LoadFixtureJSON(t, testsupport.FixturePath("request_directives.json"), &cases)

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			h := http.Header{}
			for name, values := range tc.Header {
				for _, v := range values {
					h.Add(name, v)
				}
			}

			got := httpcache.ParseRequestDirectives(h)
			assert.Equal(t, tc.Want.NoCache, got.NoCache, "no-cache")
			assert.Equal(t, tc.Want.NoStore, got.NoStore, "no-store")
			assert.Equal(t, secondsPtr(tc.Want.MaxAge), got.MaxAge, "max-age")
			assert.Equal(t, tc.Want.MaxStale, got.MaxStale, "max-stale")
			assert.Equal(t, secondsPtr(tc.Want.MaxStaleLimit), got.MaxStaleLimit, "max-stale limit")
			assert.Equal(t, secondsPtr(tc.Want.MinFresh), got.MinFresh, "min-fresh")
			assert.Equal(t, tc.Want.OnlyIfCached, got.OnlyIfCached, "only-if-cached")
			assert.Equal(t, tc.Want.Revalidate, got.WantsRevalidation(), "revalidation")
		})
	}
}

func TestRequestDirectives_AcceptsStale(t *testing.T) {
	limit := 10 * time.Second

	assert.False(t, httpcache.RequestDirectives{}.AcceptsStale(time.Second))
	assert.True(t, httpcache.RequestDirectives{MaxStale: true}.AcceptsStale(time.Hour))
	assert.True(t, httpcache.RequestDirectives{MaxStale: true, MaxStaleLimit: &limit}.AcceptsStale(limit))
	assert.False(t, httpcache.RequestDirectives{MaxStale: true, MaxStaleLimit: &limit}.AcceptsStale(limit+time.Second))
}

func TestCacheControl(t *testing.T) {
	cc := httpcache.ParseCacheControl([]string{"public, max-age=60", "private=\"Set-Cookie\", max-age=120"})

	assert.True(t, cc.Has("public"))
	v, ok := cc.Get("private")
	assert.True(t, ok)
	assert.Equal(t, "Set-Cookie", v)

	d, ok := cc.Seconds("max-age")
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, d, "last directive wins")

	_, ok = cc.Seconds("public")
	assert.False(t, ok)
	assert.False(t, cc.Has("no-store"))
}
