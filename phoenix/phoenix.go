package phoenix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/goliatone/go-flatwhite/interception"
	"github.com/google/uuid"
)

// RetryBackoff is the delay before a failed refresh is attempted again. It
// does not depend on the configured duration.
const RetryBackoff = time.Second

// State is the lifecycle state of a Phoenix.
type State int32

const (
	// Alive means the entry was refreshed and the phoenix is idle.
	Alive State = iota
	// Raising means a refresh is in flight.
	Raising
	// InActive means the phoenix waits for an on-demand refresh.
	InActive
	// Disposing means no further refreshes will run.
	Disposing
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Raising:
		return "raising"
	case InActive:
		return "inactive"
	case Disposing:
		return "disposing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Info captures what a Phoenix needs to reissue the call behind an entry.
type Info struct {
	Key      string
	Method   *interception.Method
	Target   any
	Args     []any
	Settings cache.Settings
	// CreatedAt is the creation time of the entry being kept warm.
	CreatedAt time.Time
}

// Phoenix keeps one cache entry warm by reissuing its original call.
//
// Refreshes are single flight: while one is running further Reborn calls
// return Raising without doing any work. A refreshed value is written as a
// new Entry, never by mutating the stored one.
type Phoenix struct {
	id       string
	info     Info
	store    cache.AsyncStore
	registry *Registry

	mu          sync.Mutex
	state       State
	disposed    bool
	timer       cache.Timer
	generation  uint64
	nextFire    time.Time
	refreshedAt time.Time
	refreshes   int
	failures    int
	lastErr     error
}

func newPhoenix(r *Registry, info Info, store cache.AsyncStore) *Phoenix {
	state := Alive
	if !info.Settings.AutoRefresh {
		state = InActive
	}
	return &Phoenix{
		id:          uuid.NewString(),
		info:        info,
		store:       store,
		registry:    r,
		state:       state,
		refreshedAt: info.CreatedAt,
	}
}

func (p *Phoenix) ID() string  { return p.id }
func (p *Phoenix) Key() string { return p.info.Key }

func (p *Phoenix) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reborn refreshes the entry now. A refresh error is returned to the caller
// and a retry is scheduled after RetryBackoff.
func (p *Phoenix) Reborn(ctx context.Context) (State, error) {
	return p.reborn(ctx, time.Time{})
}

// RebornStale refreshes the entry only if the entry created at seen is still
// the latest one known, so stale readers racing a completed refresh do not
// start another.
func (p *Phoenix) RebornStale(ctx context.Context, seen time.Time) (State, error) {
	return p.reborn(ctx, seen)
}

func (p *Phoenix) reborn(ctx context.Context, seen time.Time) (State, error) {
	p.mu.Lock()
	if p.state == Raising || p.state == Disposing {
		state := p.state
		p.mu.Unlock()
		return state, nil
	}
	if !seen.IsZero() && p.refreshedAt.After(seen) {
		state := p.state
		p.mu.Unlock()
		return state, nil
	}
	p.state = Raising
	p.stopTimerLocked()
	p.mu.Unlock()

	started := p.registry.clock.Now()
	next, createdAt, err := p.refresh(ctx, started)

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return Disposing, err
	}

	if err != nil {
		p.state = p.idleState()
		p.failures++
		p.lastErr = err
		p.armLocked(p.registry.retryBackoff, p.onRefreshTimer)
		state := p.state
		p.mu.Unlock()

		p.registry.logger.Error().Err(err).
			Str("key", p.info.Key).
			Int("store_id", p.store.StoreID()).
			Stringer("state", state).
			Dur("retry_in", p.registry.retryBackoff).
			Msg("phoenix refresh failed")
		return state, err
	}

	if next == Disposing {
		p.mu.Unlock()
		p.Dispose()
		return Disposing, nil
	}

	p.state = next
	p.refreshes++
	p.failures = 0
	p.lastErr = nil
	if createdAt.After(p.refreshedAt) {
		p.refreshedAt = createdAt
	}
	p.armIdleLocked()
	p.mu.Unlock()

	p.registry.logger.Debug().
		Str("key", p.info.Key).
		Int("store_id", p.store.StoreID()).
		Stringer("state", next).
		Msg("phoenix refreshed")
	return next, nil
}

// refresh reissues the call and stores its result. It returns the state to
// move to and the creation time of the entry now stored.
func (p *Phoenix) refresh(ctx context.Context, started time.Time) (State, time.Time, error) {
	target, err := p.activate(ctx)
	if err != nil {
		return Disposing, time.Time{}, cache.WrapRefreshError(err, fmt.Sprintf("activate %s", p.info.Method.DeclaringType))
	}

	r, err := p.info.Method.Call(ctx, target, p.info.Args)
	if err != nil {
		return Disposing, time.Time{}, cache.WrapRefreshError(err, fmt.Sprintf("refresh %s", p.info.Key))
	}
	v, err := r.Await(ctx)
	if err != nil {
		return Disposing, time.Time{}, cache.WrapRefreshError(err, fmt.Sprintf("refresh %s", p.info.Key))
	}

	// The write is ordered against other computes of the same key.
	unlock, err := p.registry.locks.Lock(ctx, cache.LockKey(p.store.StoreID(), p.info.Key))
	if err != nil {
		return Disposing, time.Time{}, cache.WrapRefreshError(err, fmt.Sprintf("lock %s", p.info.Key))
	}
	defer unlock()

	// A write that happened after this refresh started holds a newer value.
	current, ok, err := cache.GetEntry(ctx, p.store, p.info.Key)
	if err == nil && ok && current.CreatedAt.After(started) {
		return p.idleState(), current.CreatedAt, nil
	}

	if cache.IsNil(v) {
		if err := p.store.Remove(ctx, p.info.Key); err != nil {
			p.registry.logger.Error().Err(err).
				Str("key", p.info.Key).
				Int("store_id", p.store.StoreID()).
				Msg("remove entry after empty refresh")
		}
		return Disposing, time.Time{}, nil
	}

	entry := cache.NewEntry(p.info.Key, v, p.registry.clock.Now(), p.store.StoreID(), p.info.Settings)
	if err := cache.SetEntry(ctx, p.store, entry); err != nil {
		return Disposing, time.Time{}, err
	}
	return p.idleState(), entry.CreatedAt, nil
}

func (p *Phoenix) activate(ctx context.Context) (any, error) {
	if p.registry.activator == nil {
		return p.info.Target, nil
	}
	instance, err := p.registry.activator.CreateInstance(ctx, p.info.Method.DeclaringType)
	if errors.Is(err, interception.ErrNoFactory) {
		return p.info.Target, nil
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func (p *Phoenix) idleState() State {
	if p.info.Settings.AutoRefresh {
		return Alive
	}
	return InActive
}

// armIdleLocked schedules the next timer event. Auto refreshing phoenixes
// refresh every Duration; the others dispose once the stale window has
// passed without an on-demand refresh.
func (p *Phoenix) armIdleLocked() {
	if p.info.Settings.AutoRefresh {
		p.armLocked(p.info.Settings.Duration, p.onRefreshTimer)
		return
	}
	p.armLocked(p.info.Settings.Duration+p.info.Settings.StaleWhileRevalidate, p.Dispose)
}

func (p *Phoenix) armLocked(d time.Duration, fire func()) {
	p.stopTimerLocked()
	p.generation++
	generation := p.generation
	p.nextFire = p.registry.clock.Now().Add(d)
	p.timer = p.registry.clock.AfterFunc(d, func() {
		p.mu.Lock()
		current := p.generation == generation && !p.disposed
		p.mu.Unlock()
		if current {
			fire()
		}
	})
}

func (p *Phoenix) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.nextFire = time.Time{}
}

func (p *Phoenix) onRefreshTimer() {
	// Errors are logged by reborn and a retry is already scheduled.
	_, _ = p.Reborn(context.Background())
}

// Dispose stops the timer and removes the phoenix from its registry. It is
// idempotent.
func (p *Phoenix) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.state = Disposing
	p.stopTimerLocked()
	p.mu.Unlock()

	if p.registry.remove(p) {
		p.registry.disposed(p.info.Key)
	}
}

// Snapshot is a point in time view of a phoenix for status listings.
type Snapshot struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Method      string    `json:"method"`
	StoreID     int       `json:"store_id"`
	State       State     `json:"state"`
	AutoRefresh bool      `json:"auto_refresh"`
	RefreshedAt time.Time `json:"refreshed_at"`
	NextFire    time.Time `json:"next_fire,omitempty"`
	Refreshes   int       `json:"refreshes"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
}

func (p *Phoenix) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		ID:          p.id,
		Key:         p.info.Key,
		Method:      p.info.Method.ID(),
		StoreID:     p.store.StoreID(),
		State:       p.state,
		AutoRefresh: p.info.Settings.AutoRefresh,
		RefreshedAt: p.refreshedAt,
		NextFire:    p.nextFire,
		Refreshes:   p.refreshes,
		Failures:    p.failures,
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}
