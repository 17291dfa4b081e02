package testsupport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_AdvanceFiresDueTimersInOrder(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	start := clock.Now()

	var fired []string
	clock.AfterFunc(2*time.Second, func() { fired = append(fired, "two") })
	clock.AfterFunc(time.Second, func() { fired = append(fired, "one") })
	clock.AfterFunc(5*time.Second, func() { fired = append(fired, "five") })

	clock.Advance(3 * time.Second)

	assert.Equal(t, []string{"one", "two"}, fired)
	assert.Equal(t, start.Add(3*time.Second), clock.Now())
	assert.Equal(t, 1, clock.Pending())
}

func TestFakeClock_CallbackSeesDueTime(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	start := clock.Now()

	var at time.Time
	clock.AfterFunc(time.Second, func() { at = clock.Now() })
	clock.Advance(10 * time.Second)

	assert.Equal(t, start.Add(time.Second), at)
}

func TestFakeClock_TimersArmedByCallbacks(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	count := 0
	var tick func()
	tick = func() {
		count++
		clock.AfterFunc(time.Second, tick)
	}
	clock.AfterFunc(time.Second, tick)

	clock.Advance(3 * time.Second)

	assert.Equal(t, 3, count)
	assert.Equal(t, 1, clock.Pending())
}

func TestFakeClock_Stop(t *testing.T) {
	clock := NewFakeClock(time.Time{})

	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	clock.Advance(time.Minute)
	assert.False(t, fired)
}
