package revalidation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handler reacts to a revalidation of key.
type Handler func(ctx context.Context, key string) error

// Bus is an in-process publish/subscribe channel keyed by revalidation key.
type Bus struct {
	subscribers *xsync.MapOf[string, *xsync.MapOf[uint64, *Monitor]]
	nextID      atomic.Uint64
	count       atomic.Int64
	logger      zerolog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: xsync.NewMapOf[string, *xsync.MapOf[uint64, *Monitor]](),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Revalidate notifies, in the calling goroutine, every monitor subscribed
// to one of keys. Handler errors are joined.
func (b *Bus) Revalidate(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		for _, m := range b.snapshot(key) {
			if err := m.notify(ctx, key); err != nil {
				b.logger.Warn().Err(err).Str("revalidation_key", key).Msg("revalidation handler failed")
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RevalidateAsync notifies the subscribers of each key concurrently and
// waits for them. Without any subscriber it returns at once.
func (b *Bus) RevalidateAsync(ctx context.Context, keys ...string) error {
	if b.count.Load() == 0 {
		return nil
	}
	var g errgroup.Group
	for _, key := range keys {
		g.Go(func() error {
			return b.Revalidate(ctx, key)
		})
	}
	return g.Wait()
}

// SubscriberCount is the number of live monitors.
func (b *Bus) SubscriberCount() int {
	return int(b.count.Load())
}

// Keys lists the revalidation keys with at least one subscriber.
func (b *Bus) Keys() []string {
	var keys []string
	b.subscribers.Range(func(key string, _ *xsync.MapOf[uint64, *Monitor]) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (b *Bus) snapshot(key string) []*Monitor {
	set, ok := b.subscribers.Load(key)
	if !ok {
		return nil
	}
	monitors := make([]*Monitor, 0, set.Size())
	set.Range(func(_ uint64, m *Monitor) bool {
		monitors = append(monitors, m)
		return true
	})
	return monitors
}

func (b *Bus) subscribe(m *Monitor) {
	b.subscribers.Compute(m.key, func(set *xsync.MapOf[uint64, *Monitor], loaded bool) (*xsync.MapOf[uint64, *Monitor], bool) {
		if !loaded {
			set = xsync.NewMapOf[uint64, *Monitor]()
		}
		set.Store(m.id, m)
		return set, false
	})
	b.count.Add(1)
}

func (b *Bus) unsubscribe(m *Monitor) {
	b.subscribers.Compute(m.key, func(set *xsync.MapOf[uint64, *Monitor], loaded bool) (*xsync.MapOf[uint64, *Monitor], bool) {
		if !loaded {
			return set, true
		}
		set.Delete(m.id)
		return set, set.Size() == 0
	})
	b.count.Add(-1)
}

// Monitor is a subscription to one revalidation key.
type Monitor struct {
	bus     *Bus
	key     string
	id      uint64
	handler atomic.Pointer[Handler]
	once    sync.Once
	closed  atomic.Bool
}

// NewMonitor subscribes a monitor for key. It stays subscribed until
// Dispose is called.
func NewMonitor(bus *Bus, key string) *Monitor {
	m := &Monitor{bus: bus, key: key, id: bus.nextID.Add(1)}
	bus.subscribe(m)
	return m
}

func (m *Monitor) Key() string { return m.key }

// OnChanged sets the handler run when the key is revalidated.
func (m *Monitor) OnChanged(h Handler) {
	m.handler.Store(&h)
}

// Dispose unsubscribes the monitor. It is safe to call more than once.
func (m *Monitor) Dispose() {
	m.once.Do(func() {
		m.closed.Store(true)
		m.bus.unsubscribe(m)
	})
}

func (m *Monitor) Disposed() bool {
	return m.closed.Load()
}

func (m *Monitor) notify(ctx context.Context, key string) error {
	if m.closed.Load() {
		return nil
	}
	h := m.handler.Load()
	if h == nil {
		return nil
	}
	return (*h)(ctx, key)
}
