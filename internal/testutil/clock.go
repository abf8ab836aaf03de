package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FakeClock: a Monday morning when
// counters open.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// FakeClock is a wall clock that only moves when told to.
//
// Components take a "now" function; pass clock.Now.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock at start, or at Epoch when start is zero.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored; the clock never goes backwards.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set jumps the clock to t.
//
// Used for test reuse, e.g. resetting between scenarios.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
