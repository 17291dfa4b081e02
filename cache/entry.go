package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// PayloadBytes is implemented by payloads that carry their own wire bytes,
// such as cached HTTP responses. The entry checksum is computed over these
// bytes instead of the msgpack encoding of the payload.
type PayloadBytes interface {
	PayloadBytes() []byte
}

// Entry is a single cached value together with its freshness metadata.
//
// Entries are never mutated once stored: a refresh writes a brand new Entry
// under the same key, so concurrent readers always see a complete value.
// Always handle entries through pointers.
type Entry struct {
	Key                       string        `msgpack:"key"`
	Payload                   any           `msgpack:"payload"`
	CreatedAt                 time.Time     `msgpack:"created_at"`
	MaxAge                    time.Duration `msgpack:"max_age"`
	StaleWhileRevalidate      time.Duration `msgpack:"stale_while_revalidate"`
	StaleIfError              time.Duration `msgpack:"stale_if_error"`
	StoreID                   int           `msgpack:"store_id"`
	AutoRefresh               bool          `msgpack:"auto_refresh"`
	IgnoreRevalidationRequest bool          `msgpack:"ignore_revalidation_request"`

	checksumOnce sync.Once
	checksum     string
}

// NewEntry builds an entry for payload using the freshness values in settings.
func NewEntry(key string, payload any, createdAt time.Time, storeID int, settings Settings) *Entry {
	return &Entry{
		Key:                       key,
		Payload:                   payload,
		CreatedAt:                 createdAt,
		MaxAge:                    settings.Duration,
		StaleWhileRevalidate:      settings.StaleWhileRevalidate,
		StaleIfError:              settings.StaleIfError,
		StoreID:                   storeID,
		AutoRefresh:               settings.AutoRefresh,
		IgnoreRevalidationRequest: settings.IgnoreRevalidationRequest,
	}
}

// Age is the time elapsed since the entry was created.
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.CreatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// IsStale reports whether the entry is older than its max age.
func (e *Entry) IsStale(now time.Time) bool {
	return e.Age(now) > e.MaxAge
}

// IsWithinRevalidateWindow reports whether the entry is stale but may still
// be served while a refresh happens.
func (e *Entry) IsWithinRevalidateWindow(now time.Time) bool {
	age := e.Age(now)
	return age > e.MaxAge && age <= e.MaxAge+e.StaleWhileRevalidate
}

// IsWithinStaleIfErrorWindow reports whether the entry may be served in place
// of a failed call.
func (e *Entry) IsWithinStaleIfErrorWindow(now time.Time) bool {
	return e.Age(now) <= e.MaxAge+e.StaleIfError
}

// IsServable reports whether a read may return the entry, fresh or stale.
func (e *Entry) IsServable(now time.Time) bool {
	return e.Age(now) <= e.MaxAge+e.StaleWhileRevalidate
}

// Remaining is the freshness left before the entry turns stale.
func (e *Entry) Remaining(now time.Time) time.Duration {
	return e.MaxAge - e.Age(now)
}

// ExpiresAt is the absolute time after which no window can serve the entry.
// Stores use it as the entry's absolute expiration.
func (e *Entry) ExpiresAt() time.Time {
	grace := e.StaleWhileRevalidate
	if e.StaleIfError > grace {
		grace = e.StaleIfError
	}
	return e.CreatedAt.Add(e.MaxAge + grace)
}

// HashedKey is the digest of the raw cache key used in ETags.
func (e *Entry) HashedKey() string {
	return Digest([]byte(e.Key))
}

// Checksum is the digest of the payload bytes. It is computed once on first
// use.
func (e *Entry) Checksum() string {
	e.checksumOnce.Do(func() {
		e.checksum = Digest(payloadBytes(e.Payload))
	})
	return e.checksum
}

// DecodePayload copies the payload into v, which must be a non-nil pointer.
// Payloads read back from serializing stores lose their concrete type, so a
// msgpack round trip is used when a direct assignment is not possible.
func (e *Entry) DecodePayload(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("decode payload: target must be a non-nil pointer, got %T", v)
	}
	if e.Payload == nil {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
		return nil
	}

	pv := reflect.ValueOf(e.Payload)
	if pv.Type().AssignableTo(rv.Elem().Type()) {
		rv.Elem().Set(pv)
		return nil
	}
	if pv.Kind() == reflect.Pointer && !pv.IsNil() && pv.Elem().Type().AssignableTo(rv.Elem().Type()) {
		rv.Elem().Set(pv.Elem())
		return nil
	}

	data, err := msgpack.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: encode %T: %w", e.Payload, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload into %T: %w", v, err)
	}
	return nil
}

// Digest returns the hex encoded MD5 digest of data.
func Digest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func payloadBytes(payload any) []byte {
	switch p := payload.(type) {
	case nil:
		return nil
	case []byte:
		return p
	case string:
		return []byte(p)
	case PayloadBytes:
		return p.PayloadBytes()
	}

	data, err := msgpack.Marshal(payload)
	if err != nil {
		return []byte(fmt.Sprintf("%#v", payload))
	}
	return data
}

// IsNil reports whether v is nil or a typed nil.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
