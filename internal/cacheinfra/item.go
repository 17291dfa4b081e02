package cacheinfra

import "time"

// noExpiryTTL stands in for "never" in stores that require a finite TTL.
const noExpiryTTL = 10 * 365 * 24 * time.Hour

// item is what the in-memory stores keep per key.
type item struct {
	value     any
	expiresAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// ttlUntil converts an absolute expiration to a TTL. Expirations in the
// past yield zero.
func ttlUntil(now, expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return noExpiryTTL
	}
	ttl := expiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
