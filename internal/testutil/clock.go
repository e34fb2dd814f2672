package testutil

import (
	"sync"
	"time"
)

// FakeClock is a thread-safe wall clock for tests.
//
// Every call to Now advances the clock by Step before returning, so two
// successive readings are always strictly ordered and deterministic. Step of
// zero freezes the clock until Advance or Set is called.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// Epoch is the default start time of a FakeClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFakeClock creates a clock at start that ticks by step per reading.
// A zero start uses Epoch.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start.UTC(), step: step}
}

// Now returns the next reading.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Peek returns the current reading without advancing.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
