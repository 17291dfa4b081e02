package cache

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/puzpuzpuz/xsync/v3"
)

// SettingsContextKey is the invocation context key holding the Settings
// resolved for the current call.
const SettingsContextKey = "flatwhite.settings"

// VaryAll in VaryByParam varies the key by every parameter.
const VaryAll = "*"

var (
	paramListPattern  = regexp.MustCompile(`^\s*(\*|[A-Za-z_][A-Za-z0-9_]*)(\s*,\s*[A-Za-z_][A-Za-z0-9_]*)*\s*$`)
	customListPattern = regexp.MustCompile(`^\s*[A-Za-z_][A-Za-z0-9_.-]*(\s*,\s*[A-Za-z_][A-Za-z0-9_.-]*)*\s*$`)
)

// Settings is the per-method cache configuration. It is built at
// registration time and read-only afterwards.
type Settings struct {
	// Duration is the max age of stored entries. Registration replaces zero
	// with the configured default; a call whose Duration is still zero is not
	// cached.
	Duration time.Duration
	// StaleWhileRevalidate is how long a stale entry is still served while a
	// background refresh runs. A positive value attaches a Phoenix to every
	// stored entry.
	StaleWhileRevalidate time.Duration
	// StaleIfError is how long past its max age an entry may replace a
	// failed call.
	StaleIfError time.Duration
	// VaryByParam is a comma separated list of parameter names, or "*".
	VaryByParam string
	// VaryByCustom is a comma separated list of dotted context paths.
	VaryByCustom string
	// RevalidateKeyFormat is interpolated with the call arguments, for
	// example "User_{userID}".
	RevalidateKeyFormat string
	// StoreID selects a registered store. Zero means the default store.
	StoreID int
	// StoreType selects a registered store by its concrete type when
	// StoreID is zero.
	StoreType reflect.Type
	// AutoRefresh keeps refreshing the entry every Duration instead of only
	// on demand.
	AutoRefresh bool
	// IgnoreRevalidationRequest makes the HTTP layer ignore no-cache and
	// max-age=0 request directives.
	IgnoreRevalidationRequest bool
	// Strategy names a registered cache strategy. Empty selects the default.
	Strategy string
}

// Validate checks the settings values.
func (s Settings) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Duration, validation.Min(time.Duration(0))),
		validation.Field(&s.StaleWhileRevalidate, validation.Min(time.Duration(0))),
		validation.Field(&s.StaleIfError, validation.Min(time.Duration(0))),
		validation.Field(&s.StoreID, validation.Min(0)),
		validation.Field(&s.VaryByParam, validation.Match(paramListPattern)),
		validation.Field(&s.VaryByCustom, validation.Match(customListPattern)),
	)
	return WrapConfigurationError(err, TextCodeInvalidSettings, "invalid cache settings")
}

// VaryByParams returns the parameter names listed in VaryByParam.
func (s Settings) VaryByParams() []string {
	return splitList(s.VaryByParam)
}

// VaryByCustoms returns the context paths listed in VaryByCustom.
func (s Settings) VaryByCustoms() []string {
	return splitList(s.VaryByCustom)
}

// VariesBy reports whether the key varies by the named parameter.
func (s Settings) VariesBy(param string) bool {
	for _, name := range s.VaryByParams() {
		if name == VaryAll || name == param {
			return true
		}
	}
	return false
}

func splitList(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WithSettings stores s in the invocation context values.
func WithSettings(values map[string]any, s Settings) {
	values[SettingsContextKey] = s
}

// SettingsFrom returns the Settings stored in the invocation context values.
func SettingsFrom(values map[string]any) (Settings, bool) {
	s, ok := values[SettingsContextKey].(Settings)
	return s, ok
}

// SettingsRegistry keeps the resolved Settings per stable method id.
type SettingsRegistry struct {
	settings *xsync.MapOf[string, Settings]
}

func NewSettingsRegistry() *SettingsRegistry {
	return &SettingsRegistry{settings: xsync.NewMapOf[string, Settings]()}
}

// Register validates and stores the settings of a method.
func (r *SettingsRegistry) Register(methodID string, s Settings) error {
	if methodID == "" {
		return NewConfigurationError(TextCodeInvalidSettings, "method id is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	r.settings.Store(methodID, s)
	return nil
}

func (r *SettingsRegistry) Lookup(methodID string) (Settings, bool) {
	return r.settings.Load(methodID)
}

func (r *SettingsRegistry) Remove(methodID string) {
	r.settings.Delete(methodID)
}

func (r *SettingsRegistry) Len() int {
	return r.settings.Size()
}
