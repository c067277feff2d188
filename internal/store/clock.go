package store

import "sync/atomic"

// Clock is the monotonic logical clock behind snapshot versions.
//
// Version 0 is the empty store; the first publication is 1. Wall-clock time
// is never used for ordering.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next version and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued version without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
