package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a DeterministicClock.
var Epoch = time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)

// DeterministicClock is a wall clock for tests that only moves when told to,
// or by a fixed step on every reading.
//
// It satisfies engine.Clock, and its Now method can be passed to
// store.WithClock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock at start. A zero start uses Epoch.
func NewDeterministicClock(start time.Time) *DeterministicClock {
	if start.IsZero() {
		start = Epoch
	}
	return &DeterministicClock{now: start.UTC()}
}

// WithStep makes every Now call advance the clock by step after reading.
// Useful when distinct timestamps make assertions clearer.
func (c *DeterministicClock) WithStep(step time.Duration) *DeterministicClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
	return c
}

// Now returns the current time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *DeterministicClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
