package httpcache

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
)

// routeName names the cached method of a request after its chi route
// pattern, falling back to the URL path outside chi.
func routeName(r *http.Request) string {
	pattern := ""
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		pattern = rctx.RoutePattern()
	}
	if pattern == "" {
		pattern = r.URL.Path
	}
	if name := toSnake(pattern); name != "" {
		return name
	}
	return "root"
}

// routeParams lists the chi URL parameter names of the matched route.
func routeParams(r *http.Request) []string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	for _, key := range rctx.URLParams.Keys {
		if key == "" || key == "*" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, key)
	}
	return names
}

// toSnake converts a route pattern to snake_case using ASCII-aware rules.
// Braces, slashes and other punctuation collapse into single underscores,
// so "/pages/{slug}" becomes "pages_slug".
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if (unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower) && !lastUnderscore {
					b.WriteByte('_')
					lastUnderscore = true
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			lastUnderscore = false

		case unicode.IsDigit(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				if !unicode.IsDigit(prev) && prev != '_' && !lastUnderscore {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r)
			lastUnderscore = false

		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
