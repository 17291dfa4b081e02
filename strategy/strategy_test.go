package strategy_test

import (
	"bytes"
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/goliatone/go-flatwhite/pkg/testsupport"
	"github.com/goliatone/go-flatwhite/revalidation"
	"github.com/goliatone/go-flatwhite/strategy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, any, []any) (any, error) { return nil, nil }

func invocation(m *interception.Method, args ...any) interception.Invocation {
	return interception.NewInvocation(m, nil, args)
}

func values(s cache.Settings) map[string]any {
	v := map[string]any{}
	cache.WithSettings(v, s)
	return v
}

func TestDefault_CanCache(t *testing.T) {
	d := strategy.NewDefault(cache.NewStoreProvider(), nil)

	tests := []struct {
		name   string
		method *interception.Method
		want   bool
	}{
		{
			name:   "value returning",
			method: interception.NewMethod("S", "Get").Returns(interception.TypeOf[string]()).Invoke(noop).Build(),
			want:   true,
		},
		{
			name:   "async value",
			method: interception.NewMethod("S", "GetAsync").ReturnsAsync(interception.TypeOf[string]()).Invoke(noop).Build(),
			want:   true,
		},
		{
			name:   "no return value",
			method: interception.NewMethod("S", "Touch").Invoke(noop).Build(),
		},
		{
			name:   "not interceptable",
			method: interception.NewMethod("S", "Abstract").Returns(interception.TypeOf[string]()).Build(),
		},
		{
			name:   "nested future",
			method: interception.NewMethod("S", "Later").ReturnsAsync(interception.TypeOf[*interception.Future]()).Invoke(noop).Build(),
		},
		{
			name:   "marked no cache",
			method: interception.NewMethod("S", "Now").Returns(interception.TypeOf[time.Time]()).NoCache().Invoke(noop).Build(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.CanCache(invocation(tt.method), nil))
			assert.Equal(t, tt.want, d.CanCache(invocation(tt.method), nil), "memoized")
		})
	}
}

func TestDefault_StoreResolution(t *testing.T) {
	stores := cache.NewStoreProvider()
	memory := testsupport.NewMapStore(0, nil)
	secondary := testsupport.NewMapStore(2, nil)
	require.NoError(t, stores.RegisterStore(memory))
	require.NoError(t, stores.RegisterStore(secondary))
	require.NoError(t, stores.RegisterAsyncStore(testsupport.FailingStore{ID: 5}))

	var logs bytes.Buffer
	d := strategy.NewDefault(stores, nil, strategy.WithLogger(zerolog.New(&logs)))
	m := interception.NewMethod("S", "Get").Returns(interception.TypeOf[string]()).Invoke(noop).Build()
	inv := invocation(m)

	s, err := d.GetCacheStore(inv, values(cache.Settings{}))
	require.NoError(t, err)
	assert.Same(t, memory, s)

	s, err = d.GetCacheStore(inv, values(cache.Settings{StoreID: 2}))
	require.NoError(t, err)
	assert.Same(t, secondary, s)

	as, err := d.GetAsyncCacheStore(inv, values(cache.Settings{StoreID: 5}))
	require.NoError(t, err)
	assert.Equal(t, 5, as.StoreID())

	as, err = d.GetAsyncCacheStore(inv, values(cache.Settings{StoreType: reflect.TypeOf(testsupport.FailingStore{})}))
	require.NoError(t, err)
	assert.Equal(t, 5, as.StoreID())

	assert.Empty(t, logs.String())

	s, err = d.GetCacheStore(inv, values(cache.Settings{StoreID: 5}))
	require.NoError(t, err)
	assert.Same(t, memory, s, "async only store falls back for sync callers")
	assert.Contains(t, logs.String(), "cache store not found")

	logs.Reset()
	as, err = d.GetAsyncCacheStore(inv, values(cache.Settings{StoreID: 99}))
	require.NoError(t, err)
	assert.Equal(t, 0, as.StoreID())
	assert.Contains(t, logs.String(), `"store_id":99`)
}

func TestDefault_NoDefaultStore(t *testing.T) {
	d := strategy.NewDefault(cache.NewStoreProvider(), nil)
	m := interception.NewMethod("S", "Get").Returns(interception.TypeOf[string]()).Invoke(noop).Build()

	_, err := d.GetAsyncCacheStore(invocation(m), values(cache.Settings{}))
	require.Error(t, err)
	assert.True(t, cache.IsConfigurationError(err))
}

func TestDefault_ChangeMonitors(t *testing.T) {
	bus := revalidation.NewBus()
	d := strategy.NewDefault(cache.NewStoreProvider(), bus)
	m := interception.NewMethod("Users", "Get").
		Param("id", interception.TypeOf[string]()).
		Returns(interception.TypeOf[string]()).
		Invoke(noop).
		Build()

	assert.Empty(t, d.GetChangeMonitors(invocation(m, "42"), values(cache.Settings{})))

	monitors := d.GetChangeMonitors(invocation(m, "42"), values(cache.Settings{RevalidateKeyFormat: "User_{id}"}))
	require.Len(t, monitors, 1)
	assert.Equal(t, "User_42", monitors[0].Key())
	assert.Equal(t, []string{"User_42"}, bus.Keys())

	monitors[0].Dispose()
	assert.Zero(t, bus.SubscriberCount())
}

func TestDefault_KeyBuilder(t *testing.T) {
	kb := cache.NewDefaultKeyBuilder()
	d := strategy.NewDefault(cache.NewStoreProvider(), nil, strategy.WithKeyBuilder(kb))
	assert.Same(t, kb, d.KeyBuilder())

	d = strategy.NewDefault(cache.NewStoreProvider(), nil, strategy.WithKeyBuilder(nil))
	assert.NotNil(t, d.KeyBuilder())
}

func TestRegistry(t *testing.T) {
	def := strategy.NewDefault(cache.NewStoreProvider(), nil)
	other := strategy.NewDefault(cache.NewStoreProvider(), nil)
	r := strategy.NewRegistry(def)
	r.Register("reports", other)

	s, err := r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, def, s)

	s, err = r.Resolve("reports")
	require.NoError(t, err)
	assert.Same(t, other, s)

	_, err = r.Resolve("missing")
	require.Error(t, err)
	assert.True(t, cache.IsConfigurationError(err))
	assert.True(t, cache.HasTextCode(err, cache.TextCodeStrategyUnresolved))
}
