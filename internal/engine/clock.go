package engine

import "sync/atomic"

// Clock stamps committed transactions with strictly increasing seq numbers.
//
// Seqs are logical time: the journal is ordered by them, never by wall
// clock. A Program resumes its clock from the journal's last seq so numbering
// continues across restarts.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next seq is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
