package cache

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	json "github.com/goccy/go-json"
)

// HashCodeGenerator turns an argument or context value into the stable
// string embedded in cache keys.
type HashCodeGenerator interface {
	GetCode(value any) string
}

// HashCodeGeneratorFunc adapts a function to HashCodeGenerator.
type HashCodeGeneratorFunc func(value any) string

func (f HashCodeGeneratorFunc) GetCode(value any) string { return f(value) }

// defaultHashCodeGenerator hashes primitives through their canonical string
// form and everything else through an xxhash of a reflective serialization,
// so equal-by-value arguments produce equal codes.
type defaultHashCodeGenerator struct {
	serializer valueSerializer
}

// NewDefaultHashCodeGenerator returns the generator used when no
// type-specific generator is registered.
func NewDefaultHashCodeGenerator() HashCodeGenerator {
	return &defaultHashCodeGenerator{}
}

func (g *defaultHashCodeGenerator) GetCode(value any) string {
	if IsNil(value) {
		return "null"
	}
	if isBasicKind(reflect.TypeOf(value).Kind()) {
		return fmt.Sprintf("%v", value)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(g.serializer.serialize(value)))
}

// valueSerializer renders values deterministically using reflection. Values
// with their own text or JSON form use it. Function pointers use %p
// formatting; slices, maps and structs are walked recursively and anything
// else falls back to JSON.
type valueSerializer struct{}

func (s valueSerializer) serialize(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := reflect.TypeOf(v)

	if rt.Kind() == reflect.Pointer && rv.IsNil() {
		return "nil"
	}
	if text, ok := s.marshaled(v); ok {
		return text
	}

	switch rt.Kind() {
	case reflect.Func:
		return fmt.Sprintf("func:%p", v)
	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)
	case reflect.Pointer:
		if rv.IsNil() {
			return "nil"
		}
		return s.serialize(rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			return "interface:nil"
		}
		return s.serialize(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return s.serializeSequence("slice", rv)
	case reflect.Array:
		return s.serializeSequence("array", rv)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv, rt)
	}

	if isBasicKind(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	return s.jsonFallback(v)
}

func (s valueSerializer) serializeSequence(kind string, rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)
	for i := 0; i < length; i++ {
		parts[i] = s.serialize(rv.Index(i).Interface())
	}
	return fmt.Sprintf("%s[%d]:{%s}", kind, length, strings.Join(parts, ","))
}

// serializeMap sorts pairs by their serialized key for determinism.
func (s valueSerializer) serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, s.serialize(iter.Key().Interface())+"="+s.serialize(iter.Value().Interface()))
	}
	sort.Strings(pairs)
	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

func (s valueSerializer) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldValue := rv.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}
		parts = append(parts, field.Name+":"+s.serialize(fieldValue.Interface()))
	}
	// Structs holding only unexported state still have to differ by value.
	if len(parts) == 0 && rt.NumField() > 0 {
		if str, ok := rv.Interface().(fmt.Stringer); ok {
			return rt.String() + ":" + str.String()
		}
		return fmt.Sprintf("%#v", rv.Interface())
	}
	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

// marshaled renders values that define their own text or JSON form.
func (s valueSerializer) marshaled(v any) (string, bool) {
	switch m := v.(type) {
	case encoding.TextMarshaler:
		if data, err := m.MarshalText(); err == nil {
			return "text:" + string(data), true
		}
	case json.Marshaler:
		if data, err := m.MarshalJSON(); err == nil {
			return "json:" + string(data), true
		}
	}
	return "", false
}

func (s valueSerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%s", reflect.TypeOf(v).String())
	}
	return "json:" + string(data)
}

func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}
