package datalayer

import "sync/atomic"

// Clock is a monotonic logical clock used to stamp commands.
//
// Sequence numbers, never wall-clock time, define command order, so replaying
// the same pushes yields the same order.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
