package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CacheControl holds parsed Cache-Control directives. Directive names are
// compared case-insensitively; arguments may be tokens or quoted strings.
type CacheControl struct {
	directives map[string]string
}

// ParseCacheControl parses every Cache-Control header value. When a
// directive repeats, the last one wins.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	for _, header := range headers {
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			m[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(arg), `"`)
		}
	}
	return CacheControl{directives: m}
}

func (c CacheControl) Get(directive string) (string, bool) {
	v, ok := c.directives[directive]
	return v, ok
}

func (c CacheControl) Has(directive string) bool {
	_, ok := c.directives[directive]
	return ok
}

// Seconds returns a delta-seconds argument. Malformed arguments report
// false.
func (c CacheControl) Seconds(directive string) (time.Duration, bool) {
	v, ok := c.directives[directive]
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// RequestDirectives are the request directives the evaluator honors.
type RequestDirectives struct {
	NoCache bool
	NoStore bool
	// MaxAge is set when the request carries max-age.
	MaxAge   *time.Duration
	MaxStale bool
	// MaxStaleLimit is set when max-stale carries an argument. A bare
	// max-stale accepts any staleness.
	MaxStaleLimit *time.Duration
	MinFresh      *time.Duration
	OnlyIfCached  bool
}

// ParseRequestDirectives reads Cache-Control and the legacy Pragma header.
func ParseRequestDirectives(h http.Header) RequestDirectives {
	cc := ParseCacheControl(h.Values("Cache-Control"))

	d := RequestDirectives{
		NoCache:      cc.Has("no-cache"),
		NoStore:      cc.Has("no-store"),
		MaxStale:     cc.Has("max-stale"),
		OnlyIfCached: cc.Has("only-if-cached"),
	}
	if v, ok := cc.Seconds("max-age"); ok {
		d.MaxAge = &v
	}
	if v, ok := cc.Seconds("max-stale"); ok {
		d.MaxStaleLimit = &v
	}
	if v, ok := cc.Seconds("min-fresh"); ok {
		d.MinFresh = &v
	}
	if !cc.Has("max-age") && !d.NoCache {
		pragma := ParseCacheControl(h.Values("Pragma"))
		d.NoCache = pragma.Has("no-cache")
	}
	return d
}

// WantsRevalidation reports whether the client asked to bypass stored
// responses.
func (d RequestDirectives) WantsRevalidation() bool {
	return d.NoCache || d.NoStore || (d.MaxAge != nil && *d.MaxAge == 0)
}

// AcceptsStale reports whether max-stale covers an entry stale by overrun.
func (d RequestDirectives) AcceptsStale(overrun time.Duration) bool {
	if !d.MaxStale {
		return false
	}
	return d.MaxStaleLimit == nil || overrun <= *d.MaxStaleLimit
}
