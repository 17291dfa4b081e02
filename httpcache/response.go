package httpcache

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/goliatone/go-flatwhite/cache"
)

// Response is the payload cached for an HTTP request.
type Response struct {
	StatusCode int         `msgpack:"status_code" json:"status_code"`
	Header     http.Header `msgpack:"header" json:"header"`
	Body       []byte      `msgpack:"body" json:"body"`
}

// PayloadBytes makes entry checksums cover the body only.
func (r *Response) PayloadBytes() []byte {
	return r.Body
}

// Cacheable reports whether the response may be stored.
func (r *Response) Cacheable() bool {
	if r.StatusCode != http.StatusOK {
		return false
	}
	cc := ParseCacheControl(r.Header.Values("Cache-Control"))
	return !cc.Has("no-store") && !cc.Has("private")
}

// WriteTo writes the stored response, with extra headers on top.
func (r *Response) WriteTo(w http.ResponseWriter, extra http.Header, withBody bool) {
	h := w.Header()
	for name, values := range r.Header {
		if skipHeader(name) {
			continue
		}
		h[name] = append([]string(nil), values...)
	}
	for name, values := range extra {
		h[name] = append([]string(nil), values...)
	}
	w.WriteHeader(r.StatusCode)
	if withBody {
		_, _ = w.Write(r.Body)
	}
}

func skipHeader(name string) bool {
	switch strings.ToLower(name) {
	case "age", "etag", "warning", "connection", "transfer-encoding", "date":
		return true
	}
	return strings.HasPrefix(strings.ToLower(name), "x-flatwhite-")
}

// responseEntry returns entry with a *Response payload, decoding payloads
// read back from serializing stores.
func responseEntry(entry *cache.Entry) (*cache.Entry, *Response, bool) {
	if resp, ok := entry.Payload.(*Response); ok {
		return entry, resp, true
	}
	resp := new(Response)
	if err := entry.DecodePayload(resp); err != nil {
		return nil, nil, false
	}
	return &cache.Entry{
		Key:                       entry.Key,
		Payload:                   resp,
		CreatedAt:                 entry.CreatedAt,
		MaxAge:                    entry.MaxAge,
		StaleWhileRevalidate:      entry.StaleWhileRevalidate,
		StaleIfError:              entry.StaleIfError,
		StoreID:                   entry.StoreID,
		AutoRefresh:               entry.AutoRefresh,
		IgnoreRevalidationRequest: entry.IgnoreRevalidationRequest,
	}, resp, true
}

// recorder buffers a handler response so it can be stored before it is
// written out.
type recorder struct {
	header      http.Header
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newRecorder() *recorder {
	return &recorder{header: http.Header{}}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = statusCode
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

func (r *recorder) Response() *Response {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{
		StatusCode: status,
		Header:     r.header.Clone(),
		Body:       bytes.Clone(r.body.Bytes()),
	}
}
