package cache

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/goliatone/go-flatwhite/interception"
	"github.com/puzpuzpuz/xsync/v3"
)

// KeyBuilder derives cache keys from an invocation and its context values.
type KeyBuilder interface {
	GetCacheKey(inv interception.Invocation, values map[string]any) (string, error)
}

// DefaultKeyBuilder builds keys of the form
//
//	{DeclaringType}.{Method}({ParamType}:{code}, ...) :: {path}:{code}, ...
//
// Parameters outside VaryByParam render as {ParamType}:* so their values do
// not affect the key. VaryByCustom paths that cannot be resolved against the
// context values are left out.
type DefaultKeyBuilder struct {
	generators *xsync.MapOf[reflect.Type, HashCodeGenerator]
	fallback   HashCodeGenerator
}

// KeyBuilderOption configures a DefaultKeyBuilder.
type KeyBuilderOption func(*DefaultKeyBuilder)

// WithHashCodeGenerator registers a generator for values of type t.
func WithHashCodeGenerator(t reflect.Type, g HashCodeGenerator) KeyBuilderOption {
	return func(b *DefaultKeyBuilder) {
		b.RegisterHashCodeGenerator(t, g)
	}
}

// WithFallbackHashCodeGenerator replaces the generator used for types with
// no registered generator.
func WithFallbackHashCodeGenerator(g HashCodeGenerator) KeyBuilderOption {
	return func(b *DefaultKeyBuilder) {
		if g != nil {
			b.fallback = g
		}
	}
}

func NewDefaultKeyBuilder(opts ...KeyBuilderOption) *DefaultKeyBuilder {
	b := &DefaultKeyBuilder{
		generators: xsync.NewMapOf[reflect.Type, HashCodeGenerator](),
		fallback:   NewDefaultHashCodeGenerator(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterHashCodeGenerator sets the generator used for values of type t.
func (b *DefaultKeyBuilder) RegisterHashCodeGenerator(t reflect.Type, g HashCodeGenerator) {
	if t == nil || g == nil {
		return
	}
	b.generators.Store(t, g)
}

// GetCacheKey fails with a configuration error when values carry no Settings.
func (b *DefaultKeyBuilder) GetCacheKey(inv interception.Invocation, values map[string]any) (string, error) {
	settings, ok := SettingsFrom(values)
	if !ok {
		return "", NewConfigurationError(TextCodeSettingsMissing,
			fmt.Sprintf("cache settings missing from invocation context of %s", inv.Method().ID()))
	}

	method := inv.Method()
	args := inv.Arguments()

	params := make([]string, len(method.Params))
	for i, p := range method.Params {
		code := "*"
		if settings.VariesBy(p.Name) {
			var arg any
			if i < len(args) {
				arg = args[i]
			}
			code = b.code(arg)
		}
		params[i] = typeName(p.Type) + ":" + code
	}

	var customs []string
	for _, path := range settings.VaryByCustoms() {
		v, ok := ResolvePath(values, path)
		if !ok {
			continue
		}
		customs = append(customs, path+":"+b.code(v))
	}

	var sb strings.Builder
	sb.WriteString(method.DeclaringType)
	sb.WriteByte('.')
	sb.WriteString(method.Name)
	sb.WriteByte('(')
	sb.WriteString(strings.Join(params, ", "))
	sb.WriteString(") :: ")
	sb.WriteString(strings.Join(customs, ", "))
	return sb.String(), nil
}

func (b *DefaultKeyBuilder) code(v any) string {
	if v != nil {
		if g, ok := b.generators.Load(reflect.TypeOf(v)); ok {
			return g.GetCode(v)
		}
	}
	return b.fallback.GetCode(v)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "any"
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// ResolvePath resolves a dotted path against the context values. The first
// segment selects a context value, the following segments walk into maps
// with string keys and struct fields. Lookups fall back to a case-insensitive
// match, so "headers.cache-control" finds "Cache-Control".
func ResolvePath(values map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	current, ok := values[segments[0]]
	if !ok {
		return nil, false
	}
	for _, segment := range segments[1:] {
		current, ok = child(current, segment)
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func child(v any, name string) (any, bool) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, false
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		key := reflect.ValueOf(name).Convert(rv.Type().Key())
		if item := rv.MapIndex(key); item.IsValid() {
			return item.Interface(), true
		}
		iter := rv.MapRange()
		for iter.Next() {
			if strings.EqualFold(iter.Key().String(), name) {
				return iter.Value().Interface(), true
			}
		}
	case reflect.Struct:
		field := rv.FieldByNameFunc(func(fieldName string) bool {
			return strings.EqualFold(fieldName, name)
		})
		if field.IsValid() && field.CanInterface() {
			return field.Interface(), true
		}
	}
	return nil, false
}
