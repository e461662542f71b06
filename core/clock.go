package core

import (
	"sync"
	"time"
)

// Clock provides the current time unit.
// This interface enables dependency injection for deterministic testing.
type Clock interface {
	Now() uint64
}

// SystemClock counts whole units of wall time since a genesis instant.
type SystemClock struct {
	Genesis time.Time
	Unit    time.Duration

	now func() time.Time
}

// NewSystemClock panics on a non-positive unit (programmer error).
func NewSystemClock(genesis time.Time, unit time.Duration) *SystemClock {
	if unit <= 0 {
		panic("core.NewSystemClock: unit must be positive")
	}
	return &SystemClock{Genesis: genesis, Unit: unit, now: time.Now}
}

func (c *SystemClock) Now() uint64 {
	t := c.now()
	if t.Before(c.Genesis) {
		return 0
	}
	return uint64(t.Sub(c.Genesis) / c.Unit)
}

// defaultClock ticks in Unix seconds, the same unit block timestamps use.
var defaultClock Clock = NewSystemClock(time.Unix(0, 0), time.Second)

// DefaultClock returns the production clock.
func DefaultClock() Clock {
	return defaultClock
}

// ManualClock only moves when told to. Safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Set(now uint64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward and returns the new time unit.
func (c *ManualClock) Advance(units uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += units
	return c.now
}
