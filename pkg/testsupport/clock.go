package testsupport

import (
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
)

// FakeClock is a manually driven cache.Clock. Timers fire only from
// Advance, synchronously and in due order, in the goroutine calling it.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	clock *FakeClock
	id    uint64
	due   time.Time
	fn    func()
}

// NewFakeClock returns a clock set to start. A zero start uses a fixed
// date so failures are reproducible.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	}
	return &FakeClock{now: start, timers: map[uint64]*fakeTimer{}}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) cache.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, id: c.seq, due: c.now.Add(d), fn: f}
	c.timers[t.id] = t
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

// Advance moves the clock forward by d and runs every timer that becomes
// due, including timers armed by the callbacks themselves.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	c.mu.Lock()
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// Set moves the clock to now without running timers.
func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Pending is the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// nextDue removes and returns the earliest timer due by target and moves the
// clock to its due time.
func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})
	t := due[0]
	delete(c.timers, t.id)
	if t.due.After(c.now) {
		c.now = t.due
	}
	return t
}
