// Package cache holds the data model shared by every part of the output
// cache: entries and their staleness arithmetic, per-method settings, the
// store contracts and registry, cache key derivation and the error taxonomy.
//
// # Entries
//
// An Entry is immutable once stored. Its freshness is derived from CreatedAt
// and MaxAge:
//
//	age         = now - CreatedAt
//	stale       = age > MaxAge
//	revalidate  = MaxAge < age <= MaxAge + StaleWhileRevalidate
//
// Stores receive ExpiresAt as the absolute expiration, which covers the
// longest of the stale-while-revalidate and stale-if-error windows.
//
// # Keys
//
// DefaultKeyBuilder renders the method identity, the varied arguments and
// the varied context values:
//
//	UserService.GetByID(string:42, bool:*) :: query.source:mobile
//
// Primitive values appear through their canonical string form; other values
// are hashed with xxhash over a reflective serialization, so two arguments
// that are equal by value produce the same key. Type specific generators can
// be registered with RegisterHashCodeGenerator.
//
// Function values are rendered with %p and are only stable within a single
// process lifetime.
//
// # Stores
//
// Store and AsyncStore are opaque key/value contracts. StoreProvider maps
// integer ids and concrete types to instances; id 0 is reserved for the
// default in-memory store.
//
// # Errors
//
// Misconfigured calls fail with errors for which IsConfigurationError
// reports true. Failures of store backends are reported with IsStoreError.
package cache
