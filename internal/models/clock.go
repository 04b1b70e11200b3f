package models

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing millisecond timestamps, so strokes
// submitted within the same millisecond still have a total order.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockAt returns a clock driven by now, for tests.
func NewClockAt(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Tick returns the next timestamp.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}

// Observe moves the clock past a remote timestamp.
func (c *Clock) Observe(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts > c.last {
		c.last = ts
	}
}
