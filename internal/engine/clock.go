package engine

import (
	"sync/atomic"
	"time"
)

// Clock stamps mutations with strictly increasing wall-clock times.
//
// Queue entry ids embed the stamp, so two mutations in the same nanosecond
// (or a wall clock stepping backwards) must still yield ordered, distinct ids.
// Each call returns max(now, last+1ns).
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	now  func() time.Time
	last atomic.Int64 // unix nanos of the last stamp
}

// NewClock returns a Clock reading time.Now.
func NewClock() *Clock {
	return NewClockFunc(time.Now)
}

// NewClockFunc returns a Clock reading now. Used by tests for determinism.
func NewClockFunc(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the next stamp, in UTC.
func (c *Clock) Now() time.Time {
	for {
		prev := c.last.Load()
		n := c.now().UnixNano()
		if n <= prev {
			n = prev + 1
		}
		if c.last.CompareAndSwap(prev, n) {
			return time.Unix(0, n).UTC()
		}
	}
}

// Observe moves the clock forward to at least t without returning a stamp.
// Used on startup so new entries sort after ones already persisted.
func (c *Clock) Observe(t time.Time) {
	n := t.UnixNano()
	for {
		prev := c.last.Load()
		if n <= prev || c.last.CompareAndSwap(prev, n) {
			return
		}
	}
}

// Last returns the most recent stamp, or the zero time if none was issued.
func (c *Clock) Last() time.Time {
	n := c.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
