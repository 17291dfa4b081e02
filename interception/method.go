package interception

import (
	"context"
	"reflect"
)

// InvokeFunc runs the real implementation of a method against target. For
// async methods the returned value must be a *Future.
type InvokeFunc func(ctx context.Context, target any, args []any) (any, error)

// Param is a formal parameter of a method.
type Param struct {
	Name string
	Type reflect.Type
}

// Method describes an interceptable method. Methods are built once at
// registration time with MethodBuilder and shared by every call.
type Method struct {
	DeclaringType string
	Name          string
	Params        []Param
	// ReturnType is nil for methods that return no value.
	ReturnType reflect.Type
	// Async methods return a *Future from their InvokeFunc.
	Async bool
	// NoCache marks a method that must never be cached.
	NoCache bool

	invoke InvokeFunc
}

// ID is the stable identity used to look up per-method settings.
func (m *Method) ID() string {
	return m.DeclaringType + "." + m.Name
}

// ReturnsValue reports whether calls produce a value worth caching.
func (m *Method) ReturnsValue() bool {
	return m.ReturnType != nil
}

// Interceptable reports whether the method can be reissued by the engine.
func (m *Method) Interceptable() bool {
	return m.invoke != nil
}

// ReturnsNestedFuture reports whether an async method yields another future
// instead of a value.
func (m *Method) ReturnsNestedFuture() bool {
	return m.ReturnType == futureType
}

// ParamNames lists the formal parameter names in order.
func (m *Method) ParamNames() []string {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
	}
	return names
}

// Call runs the real implementation and wraps its outcome in a Result.
func (m *Method) Call(ctx context.Context, target any, args []any) (Result, error) {
	if m.invoke == nil {
		return Result{}, ErrNotInterceptable
	}
	v, err := m.invoke(ctx, target, args)
	if err != nil {
		return Result{}, err
	}
	if m.Async {
		if f, ok := v.(*Future); ok {
			return FutureResult(f), nil
		}
	}
	return ValueResult(v), nil
}

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// MethodBuilder assembles a Method.
type MethodBuilder struct {
	method Method
}

func NewMethod(declaringType, name string) *MethodBuilder {
	return &MethodBuilder{method: Method{DeclaringType: declaringType, Name: name}}
}

func (b *MethodBuilder) Param(name string, t reflect.Type) *MethodBuilder {
	b.method.Params = append(b.method.Params, Param{Name: name, Type: t})
	return b
}

func (b *MethodBuilder) Returns(t reflect.Type) *MethodBuilder {
	b.method.ReturnType = t
	b.method.Async = false
	return b
}

// ReturnsAsync declares that the method yields a *Future resolving to t.
func (b *MethodBuilder) ReturnsAsync(t reflect.Type) *MethodBuilder {
	b.method.ReturnType = t
	b.method.Async = true
	return b
}

func (b *MethodBuilder) NoCache() *MethodBuilder {
	b.method.NoCache = true
	return b
}

func (b *MethodBuilder) Invoke(fn InvokeFunc) *MethodBuilder {
	b.method.invoke = fn
	return b
}

func (b *MethodBuilder) Build() *Method {
	m := b.method
	m.Params = append([]Param(nil), b.method.Params...)
	return &m
}
