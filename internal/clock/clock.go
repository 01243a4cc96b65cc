// Package clock provides the mockable notion of "now" the scheduler reasons
// about: a block height and a wall-clock time, advanced explicitly in tests
// instead of reading the OS clock.
package clock

import (
	"sync"
	"time"
)

// Clock is a mockable source of the two clocks the engine schedules against:
// block height and block time. The daemon advances it from the local
// sequencer in cmd/croncatd/command/serve.go; tests advance it by hand.
type Clock struct {
	mu     sync.RWMutex
	height uint64
	time   time.Time
}

// New returns a Clock seeded at block 0 and the current wall-clock time.
func New() *Clock {
	return &Clock{time: time.Now()}
}

// NewAt returns a Clock seeded at the given height and time.
func NewAt(height uint64, t time.Time) *Clock {
	return &Clock{height: height, time: t}
}

// Height returns the current block height.
func (c *Clock) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// Time returns the current block time.
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.time.IsZero() {
		return time.Now()
	}
	return c.time
}

// TimeNanos returns the current block time as a Unix nanosecond timestamp,
// the unit spec.md §4.1 defines `t` in.
func (c *Clock) TimeNanos() int64 {
	return c.Time().UnixNano()
}

// SetHeight sets the current block height.
func (c *Clock) SetHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

// SetTime sets the current block time.
func (c *Clock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = t
}

// Advance moves both height and time forward, the way a new block arriving
// advances the engine's view of "now".
func (c *Clock) Advance(blocks uint64, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += blocks
	if c.time.IsZero() {
		c.time = time.Now()
	}
	c.time = c.time.Add(d)
}
