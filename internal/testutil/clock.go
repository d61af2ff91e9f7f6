package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a wall clock for tests that advances by a fixed step
// on every read.
//
// Step timings in verification reports are derived from successive Now()
// calls, so a DeterministicClock makes them reproducible for golden files.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// Epoch is the default starting instant for DeterministicClock.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// NewDeterministicClock creates a clock starting at Epoch.
//
// The first call to Now() returns Epoch; each later call returns the previous
// value plus step.
func NewDeterministicClock(step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: Epoch, now: Epoch, step: step}
}

// Now returns the current instant and advances the clock by one step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the next value Now() will return, without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its starting instant.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
