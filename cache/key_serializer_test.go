package cache

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

type point struct {
	X, Y   int
	hidden string
}

func TestDefaultHashCodeGenerator_BasicTypes(t *testing.T) {
	g := NewDefaultHashCodeGenerator()

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: "null"},
		{name: "typed nil pointer", value: (*point)(nil), want: "null"},
		{name: "int", value: 42, want: "42"},
		{name: "negative int64", value: int64(-7), want: "-7"},
		{name: "string", value: "hello:world", want: "hello:world"},
		{name: "bool", value: true, want: "true"},
		{name: "float", value: 3.14, want: "3.14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.GetCode(tt.value); got != tt.want {
				t.Errorf("GetCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultHashCodeGenerator_CompositeValuesAreHashed(t *testing.T) {
	g := NewDefaultHashCodeGenerator()

	tests := []struct {
		name  string
		value any
	}{
		{name: "slice", value: []int{1, 2, 3}},
		{name: "array", value: [2]string{"a", "b"}},
		{name: "map", value: map[string]int{"a": 1}},
		{name: "struct", value: point{X: 1, Y: 2}},
		{name: "pointer", value: &point{X: 1, Y: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.GetCode(tt.value)
			if len(got) != 16 {
				t.Fatalf("GetCode() = %q, want a 16 digit hex hash", got)
			}
			if strings.Trim(got, "0123456789abcdef") != "" {
				t.Errorf("GetCode() = %q is not lowercase hex", got)
			}
		})
	}
}

func TestDefaultHashCodeGenerator_EqualByValue(t *testing.T) {
	g := NewDefaultHashCodeGenerator()

	tests := []struct {
		name string
		a, b any
		same bool
	}{
		{name: "equal slices", a: []int{1, 2}, b: []int{1, 2}, same: true},
		{name: "different slices", a: []int{1, 2}, b: []int{2, 1}, same: false},
		{name: "maps ignore insertion order", a: map[string]int{"a": 1, "b": 2}, b: map[string]int{"b": 2, "a": 1}, same: true},
		{name: "pointer and value", a: &point{X: 1}, b: point{X: 1}, same: true},
		{name: "unexported fields ignored", a: point{X: 1, hidden: "a"}, b: point{X: 1, hidden: "b"}, same: true},
		{name: "different structs", a: point{X: 1}, b: point{X: 2}, same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			same := g.GetCode(tt.a) == g.GetCode(tt.b)
			if same != tt.same {
				t.Errorf("GetCode(%v) == GetCode(%v) is %v, want %v", tt.a, tt.b, same, tt.same)
			}
		})
	}
}

func TestValueSerializer(t *testing.T) {
	var s valueSerializer

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: "nil"},
		{name: "nil slice", value: []int(nil), want: "slice:nil"},
		{name: "nil map", value: map[string]int(nil), want: "map:nil"},
		{name: "slice", value: []any{1, "a"}, want: "slice[2]:{1,a}"},
		{name: "array", value: [2]int{3, 4}, want: "array[2]:{3,4}"},
		{name: "map sorted", value: map[string]int{"b": 2, "a": 1}, want: "map[2]:{a=1,b=2}"},
		{name: "struct", value: point{X: 1, Y: 2}, want: "struct:{X:1,Y:2}"},
		{name: "nested pointer", value: []*point{{X: 1}}, want: "slice[1]:{struct:{X:1,Y:0}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.serialize(tt.value); got != tt.want {
				t.Errorf("serialize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValueSerializer_Functions(t *testing.T) {
	var s valueSerializer
	fn := func() {}

	got := s.serialize(fn)
	if !strings.HasPrefix(got, "func:0x") {
		t.Errorf("serialize(func) = %q, want func:0x prefix", got)
	}
	if again := s.serialize(fn); again != got {
		t.Errorf("serialize(func) is not stable: %q != %q", got, again)
	}
}

func TestIsBasicKind(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{value: "s", want: true},
		{value: uint8(1), want: true},
		{value: complex(1, 2), want: true},
		{value: []int{}, want: false},
		{value: point{}, want: false},
	}

	for _, tt := range tests {
		if got := isBasicKind(reflect.TypeOf(tt.value).Kind()); got != tt.want {
			t.Errorf("isBasicKind(%T) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

type opaque struct {
	id int
}

type labeled struct {
	name string
}

func (l labeled) String() string { return "label " + l.name }

func TestDefaultHashCodeGenerator_ValuesWithoutExportedFields(t *testing.T) {
	g := NewDefaultHashCodeGenerator()
	day := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b any
		same bool
	}{
		{name: "different times", a: day, b: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), same: false},
		{name: "same time", a: day, b: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), same: true},
		{name: "time pointer and value", a: &day, b: day, same: true},
		{name: "different unexported state", a: opaque{id: 1}, b: opaque{id: 2}, same: false},
		{name: "same unexported state", a: opaque{id: 1}, b: opaque{id: 1}, same: true},
		{name: "different stringers", a: labeled{name: "a"}, b: labeled{name: "b"}, same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			same := g.GetCode(tt.a) == g.GetCode(tt.b)
			if same != tt.same {
				t.Errorf("GetCode(%v) == GetCode(%v) is %v, want %v", tt.a, tt.b, same, tt.same)
			}
		})
	}
}

func TestValueSerializer_OwnTextForms(t *testing.T) {
	var s valueSerializer
	day := time.Date(2024, time.May, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "text marshaler", value: day, want: "text:2024-05-01T09:30:00Z"},
		{name: "nested text marshaler", value: struct{ At time.Time }{At: day}, want: "struct:{At:text:2024-05-01T09:30:00Z}"},
		{name: "stringer without exported fields", value: labeled{name: "x"}, want: "cache.labeled:label x"},
		{name: "no exported fields", value: opaque{id: 3}, want: "cache.opaque{id:3}"},
		{name: "nil text marshaler", value: (*time.Time)(nil), want: "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.serialize(tt.value); got != tt.want {
				t.Errorf("serialize() = %q, want %q", got, tt.want)
			}
		})
	}
}
