package methodcache

import (
	"context"
	"maps"

	"github.com/goliatone/go-flatwhite/interception"
)

type varyValuesContextKey struct{}

// WithVaryValue attaches an ambient value to the context. Intercepted calls
// copy these values into their invocation context, where VaryByCustom paths
// such as "query.source" are resolved against them.
func WithVaryValue(ctx context.Context, name string, value any) context.Context {
	return WithVaryValues(ctx, map[string]any{name: value})
}

// WithVaryValues attaches several ambient values at once. Later values
// override earlier ones with the same name.
func WithVaryValues(ctx context.Context, values map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(values) == 0 {
		return ctx
	}

	combined := varyValuesFromContext(ctx)
	if combined == nil {
		combined = make(map[string]any, len(values))
	}
	maps.Copy(combined, values)
	return context.WithValue(ctx, varyValuesContextKey{}, combined)
}

// varyValuesFromContext returns a copy of the ambient values.
func varyValuesFromContext(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	if values, ok := ctx.Value(varyValuesContextKey{}).(map[string]any); ok {
		return maps.Clone(values)
	}
	return nil
}

func invocationValues(ctx context.Context) interception.Values {
	values := interception.Values(varyValuesFromContext(ctx))
	if values == nil {
		values = interception.Values{}
	}
	return values
}
