package cache_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var t0 = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func testEntry(payload any) *cache.Entry {
	return cache.NewEntry("Catalog.Get(int:1) :: ", payload, t0, 0, cache.Settings{
		Duration:             5 * time.Second,
		StaleWhileRevalidate: 5 * time.Second,
		StaleIfError:         10 * time.Second,
	})
}

func TestEntry_Windows(t *testing.T) {
	e := testEntry("v")

	tests := []struct {
		name        string
		at          time.Duration
		stale       bool
		servable    bool
		revalidate  bool
		staleIfErr  bool
		remaining   time.Duration
		expectedAge time.Duration
	}{
		{name: "new", at: 0, servable: true, staleIfErr: true, remaining: 5 * time.Second},
		{name: "fresh", at: 2 * time.Second, servable: true, staleIfErr: true, remaining: 3 * time.Second, expectedAge: 2 * time.Second},
		{name: "last fresh instant", at: 5 * time.Second, servable: true, staleIfErr: true, expectedAge: 5 * time.Second},
		{name: "stale", at: 6 * time.Second, stale: true, servable: true, revalidate: true, staleIfErr: true, remaining: -time.Second, expectedAge: 6 * time.Second},
		{name: "end of revalidate window", at: 10 * time.Second, stale: true, servable: true, revalidate: true, staleIfErr: true, remaining: -5 * time.Second, expectedAge: 10 * time.Second},
		{name: "stale if error only", at: 12 * time.Second, stale: true, staleIfErr: true, remaining: -7 * time.Second, expectedAge: 12 * time.Second},
		{name: "dead", at: 16 * time.Second, stale: true, remaining: -11 * time.Second, expectedAge: 16 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := t0.Add(tt.at)
			assert.Equal(t, tt.expectedAge, e.Age(now))
			assert.Equal(t, tt.stale, e.IsStale(now))
			assert.Equal(t, tt.servable, e.IsServable(now))
			assert.Equal(t, tt.revalidate, e.IsWithinRevalidateWindow(now))
			assert.Equal(t, tt.staleIfErr, e.IsWithinStaleIfErrorWindow(now))
			assert.Equal(t, tt.remaining, e.Remaining(now))
		})
	}
}

func TestEntry_AgeNeverNegative(t *testing.T) {
	e := testEntry("v")
	assert.Equal(t, time.Duration(0), e.Age(t0.Add(-time.Minute)))
}

func TestEntry_ExpiresAtCoversLongestWindow(t *testing.T) {
	e := testEntry("v")
	assert.Equal(t, t0.Add(15*time.Second), e.ExpiresAt())

	e = cache.NewEntry("k", "v", t0, 0, cache.Settings{Duration: time.Second, StaleWhileRevalidate: time.Minute})
	assert.Equal(t, t0.Add(61*time.Second), e.ExpiresAt())
}

func TestNewEntry_CopiesSettings(t *testing.T) {
	e := cache.NewEntry("k", 1, t0, 3, cache.Settings{
		Duration:                  time.Second,
		AutoRefresh:               true,
		IgnoreRevalidationRequest: true,
	})

	assert.Equal(t, "k", e.Key)
	assert.Equal(t, 3, e.StoreID)
	assert.Equal(t, time.Second, e.MaxAge)
	assert.True(t, e.AutoRefresh)
	assert.True(t, e.IgnoreRevalidationRequest)
}

type bodyPayload struct{ body []byte }

func (p bodyPayload) PayloadBytes() []byte { return p.body }

func TestEntry_Checksum(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{name: "bytes", payload: []byte("abc"), want: "900150983cd24fb0d6963f7d28e17f72"},
		{name: "string", payload: "abc", want: "900150983cd24fb0d6963f7d28e17f72"},
		{name: "payload bytes", payload: bodyPayload{body: []byte("abc")}, want: "900150983cd24fb0d6963f7d28e17f72"},
		{name: "nil", payload: nil, want: "d41d8cd98f00b204e9800998ecf8427e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testEntry(tt.payload).Checksum())
		})
	}
}

func TestEntry_ChecksumOfValuesFollowsContent(t *testing.T) {
	a := testEntry(map[string]int{"a": 1})
	b := testEntry(map[string]int{"a": 1})
	c := testEntry(map[string]int{"a": 2})

	assert.Equal(t, a.Checksum(), b.Checksum())
	assert.NotEqual(t, a.Checksum(), c.Checksum())
	assert.Len(t, a.Checksum(), 32)
}

func TestEntry_HashedKey(t *testing.T) {
	e := cache.NewEntry("abc", "v", t0, 0, cache.Settings{})
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", e.HashedKey())
	assert.Equal(t, cache.Digest([]byte("abc")), e.HashedKey())
}

type product struct {
	ID    string `msgpack:"id"`
	Price int    `msgpack:"price"`
}

func TestEntry_DecodePayload(t *testing.T) {
	t.Run("same type", func(t *testing.T) {
		var got *product
		require.NoError(t, testEntry(&product{ID: "a"}).DecodePayload(&got))
		assert.Equal(t, "a", got.ID)
	})

	t.Run("pointer payload into value", func(t *testing.T) {
		var got product
		require.NoError(t, testEntry(&product{ID: "b", Price: 3}).DecodePayload(&got))
		assert.Equal(t, product{ID: "b", Price: 3}, got)
	})

	t.Run("generic map from a serializing store", func(t *testing.T) {
		data, err := msgpack.Marshal(&product{ID: "c", Price: 7})
		require.NoError(t, err)
		var generic any
		require.NoError(t, msgpack.Unmarshal(data, &generic))

		var got product
		require.NoError(t, testEntry(generic).DecodePayload(&got))
		assert.Equal(t, product{ID: "c", Price: 7}, got)
	})

	t.Run("nil payload zeroes target", func(t *testing.T) {
		got := product{ID: "x"}
		require.NoError(t, testEntry(nil).DecodePayload(&got))
		assert.Equal(t, product{}, got)
	})

	t.Run("non pointer target", func(t *testing.T) {
		var got product
		assert.Error(t, testEntry("v").DecodePayload(got))
	})
}

func TestIsNil(t *testing.T) {
	var p *product
	var m map[string]int
	assert.True(t, cache.IsNil(nil))
	assert.True(t, cache.IsNil(p))
	assert.True(t, cache.IsNil(m))
	assert.False(t, cache.IsNil(0))
	assert.False(t, cache.IsNil(""))
	assert.False(t, cache.IsNil(&product{}))
}
