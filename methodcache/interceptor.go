package methodcache

import (
	"context"
	"fmt"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
)

// Interceptor routes method calls through a pipeline, attaching the
// settings registered for the method and the ambient vary values of the
// context.
type Interceptor struct {
	pipeline *interception.Pipeline
	settings *cache.SettingsRegistry
}

func NewInterceptor(pipeline *interception.Pipeline, settings *cache.SettingsRegistry) *Interceptor {
	return &Interceptor{pipeline: pipeline, settings: settings}
}

// Invoke calls method against target. Async methods return a Future result.
func (i *Interceptor) Invoke(ctx context.Context, method *interception.Method, target any, args ...any) (interception.Result, error) {
	values := invocationValues(ctx)
	if s, ok := i.settings.Lookup(method.ID()); ok {
		cache.WithSettings(values, s)
	}
	return i.pipeline.Invoke(ctx, interception.NewInvocation(method, target, args), values)
}

// Call invokes method and returns its value as T, awaiting async methods.
//
//	func (s *CachedUserService) GetByID(ctx context.Context, id string) (*User, error) {
//		return methodcache.Call[*User](ctx, s.interceptor, getByID, s.base, id)
//	}
func Call[T any](ctx context.Context, i *Interceptor, method *interception.Method, target any, args ...any) (T, error) {
	var zero T
	r, err := i.Invoke(ctx, method, target, args...)
	if err != nil {
		return zero, err
	}
	v, err := r.Await(ctx)
	if err != nil {
		return zero, err
	}
	return As[T](v)
}

// As converts a call result to T. Values read back from serializing stores
// are decoded into T.
func As[T any](v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	entry := &cache.Entry{Payload: v}
	if err := entry.DecodePayload(&out); err != nil {
		return out, fmt.Errorf("convert %T result: %w", v, err)
	}
	return out, nil
}
