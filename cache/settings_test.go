package cache_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name     string
		settings cache.Settings
		wantErr  bool
	}{
		{name: "zero value", settings: cache.Settings{}},
		{name: "full", settings: cache.Settings{
			Duration:             time.Minute,
			StaleWhileRevalidate: time.Minute,
			StaleIfError:         time.Hour,
			VaryByParam:          "id, filter",
			VaryByCustom:         "query.source, headers.accept-language",
			StoreID:              2,
		}},
		{name: "vary by all", settings: cache.Settings{VaryByParam: "*"}},
		{name: "negative duration", settings: cache.Settings{Duration: -time.Second}, wantErr: true},
		{name: "negative stale window", settings: cache.Settings{StaleWhileRevalidate: -time.Second}, wantErr: true},
		{name: "negative store id", settings: cache.Settings{StoreID: -1}, wantErr: true},
		{name: "bad param list", settings: cache.Settings{VaryByParam: "id;drop"}, wantErr: true},
		{name: "star mixed in later", settings: cache.Settings{VaryByParam: "id, *"}, wantErr: true},
		{name: "bad custom path", settings: cache.Settings{VaryByCustom: "query source"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, cache.IsConfigurationError(err))
			assert.True(t, cache.HasTextCode(err, cache.TextCodeInvalidSettings))
		})
	}
}

func TestSettings_VaryLists(t *testing.T) {
	s := cache.Settings{VaryByParam: " id ,filter,", VaryByCustom: "query.a"}

	assert.Equal(t, []string{"id", "filter"}, s.VaryByParams())
	assert.Equal(t, []string{"query.a"}, s.VaryByCustoms())
	assert.True(t, s.VariesBy("id"))
	assert.True(t, s.VariesBy("filter"))
	assert.False(t, s.VariesBy("page"))

	all := cache.Settings{VaryByParam: "*"}
	assert.True(t, all.VariesBy("anything"))

	assert.Nil(t, cache.Settings{}.VaryByParams())
	assert.False(t, cache.Settings{}.VariesBy("id"))
}

func TestSettingsFromValues(t *testing.T) {
	values := map[string]any{}
	_, ok := cache.SettingsFrom(values)
	assert.False(t, ok)

	cache.WithSettings(values, cache.Settings{Duration: time.Second})
	s, ok := cache.SettingsFrom(values)
	require.True(t, ok)
	assert.Equal(t, time.Second, s.Duration)
}

func TestSettingsRegistry(t *testing.T) {
	r := cache.NewSettingsRegistry()

	require.NoError(t, r.Register("Catalog.Get(int)", cache.Settings{Duration: time.Second}))
	assert.Equal(t, 1, r.Len())

	s, ok := r.Lookup("Catalog.Get(int)")
	require.True(t, ok)
	assert.Equal(t, time.Second, s.Duration)

	err := r.Register("", cache.Settings{})
	assert.True(t, cache.IsConfigurationError(err))

	err = r.Register("Catalog.List()", cache.Settings{Duration: -1})
	assert.True(t, cache.HasTextCode(err, cache.TextCodeInvalidSettings))
	_, ok = r.Lookup("Catalog.List()")
	assert.False(t, ok)

	r.Remove("Catalog.Get(int)")
	assert.Equal(t, 0, r.Len())
}
