package di

import (
	"context"
	"sort"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/phoenix"
)

// Status is a point in time view of the cache.
type Status struct {
	Stores      []StoreStatus      `json:"stores"`
	Phoenixes   []phoenix.Snapshot `json:"phoenixes"`
	Subscribers int                `json:"subscribers"`
	Methods     int                `json:"methods"`
}

type StoreStatus struct {
	ID      int           `json:"id"`
	Entries []EntryStatus `json:"entries"`
	Error   string        `json:"error,omitempty"`
}

type EntryStatus struct {
	Key      string  `json:"key"`
	AgeSec   float64 `json:"age_seconds"`
	MaxAge   float64 `json:"max_age_seconds"`
	Stale    bool    `json:"stale"`
	Checksum string  `json:"checksum"`
}

// Status lists the entries of every store and the live phoenixes. Store
// listing failures are reported per store.
func (c *Container) Status(ctx context.Context) (Status, error) {
	now := c.clock.Now()
	status := Status{
		Subscribers: c.bus.SubscriberCount(),
		Methods:     c.settings.Len(),
	}

	for _, store := range c.stores.AsyncStores() {
		s := StoreStatus{ID: store.StoreID(), Entries: []EntryStatus{}}
		items, err := store.GetAll(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Int("store_id", s.ID).Msg("list store entries")
			s.Error = err.Error()
			status.Stores = append(status.Stores, s)
			continue
		}
		for _, item := range items {
			entry, ok := cache.AsEntry(item.Value)
			if !ok {
				continue
			}
			s.Entries = append(s.Entries, EntryStatus{
				Key:      entry.Key,
				AgeSec:   entry.Age(now).Round(time.Millisecond).Seconds(),
				MaxAge:   entry.MaxAge.Seconds(),
				Stale:    entry.IsStale(now),
				Checksum: entry.Checksum(),
			})
		}
		sort.Slice(s.Entries, func(i, j int) bool { return s.Entries[i].Key < s.Entries[j].Key })
		status.Stores = append(status.Stores, s)
	}

	status.Phoenixes = []phoenix.Snapshot{}
	for _, p := range c.phoenixes.All() {
		status.Phoenixes = append(status.Phoenixes, p.Snapshot())
	}
	return status, nil
}

// StatusAny adapts Status to httpcache.StatusFunc.
func (c *Container) StatusAny(ctx context.Context) (any, error) {
	return c.Status(ctx)
}
