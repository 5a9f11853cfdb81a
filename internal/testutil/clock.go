package testutil

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Epoch is the instant FixedClock starts at.
var Epoch = time.Date(2025, 6, 2, 8, 15, 0, 0, time.UTC)

// StubClock is a manually driven pbk.Clock. Step names derive from the
// clock, so tests that store several steps advance it between runs.
type StubClock struct {
	mu   sync.Mutex
	now  time.Time
	tick time.Duration
}

// NewStubClock returns a clock stopped at t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a clock stopped at Epoch.
func FixedClock() *StubClock {
	return NewStubClock(Epoch)
}

// Now returns the current time and then moves the clock by the tick set
// with AutoAdvance.
func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.tick)
	return now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AutoAdvance makes every Now call move the clock by d afterwards.
func (c *StubClock) AutoAdvance(d time.Duration) {
	c.mu.Lock()
	c.tick = d
	c.mu.Unlock()
}

// StubIDGenerator hands out run IDs "run-1", "run-2" and so on.
type StubIDGenerator struct {
	n atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return "run-" + strconv.FormatInt(g.n.Add(1), 10)
}
