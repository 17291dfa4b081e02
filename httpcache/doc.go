// Package httpcache caches HTTP responses with the same settings, key
// builders and phoenix refreshes used for method results.
//
// Middleware evaluates the stored response of a GET or HEAD request before
// the handler runs. The Evaluator honors the request's Cache-Control
// directives (no-cache, no-store, max-age=0, max-stale, min-fresh and
// only-if-cached), answers If-None-Match with 304 when the ETag names the
// current version of an entry, and serves stale responses with a Warning
// header while a phoenix refreshes them.
//
// ETags take the form "fw-{storeId}-{md5(key)}-{checksum}", so a tag can be
// resolved back to its entry without knowing the request that produced it.
package httpcache
