// Package revalidation provides the process-wide bus used to refresh or
// drop cached entries by revalidation key.
//
// A revalidation key is independent of the cache key. Entries cached for
// GetByID("42") and GetProfile("42") can both subscribe to "User_42" and be
// revalidated together after the user changes:
//
//	bus.Revalidate(ctx, "User_42")
package revalidation
