// Package cycle implements a wrap-aware modular counter used for ack ids,
// reliable ids, and sequence ids, all of which live on a fixed-width wire
// field and must compare correctly across a wraparound.
package cycle

// Cycle is a counter that wraps from Max back to Min, with comparisons
// done over the half-range so that a wrapped value still compares as
// "greater" than a value just before the wrap.
type Cycle struct {
	min, max     uint32
	current      uint32
	rangeSize    uint32
	halfRange    uint32
}

// New creates a Cycle over [min, max] inclusive, starting at min.
func New(min, max uint32) *Cycle {
	c := &Cycle{}
	c.SetRange(min, max)
	return c
}

// SetRange resets the range and rewinds current to min.
func (c *Cycle) SetRange(min, max uint32) {
	c.min = min
	c.max = max
	c.rangeSize = max - min + 1
	c.halfRange = c.rangeSize / 2
	c.current = min
}

// Current returns the current value without advancing it.
func (c *Cycle) Current() uint32 {
	return c.current
}

// Increment advances current by one, wrapping at max back to min, and
// returns the pre-increment value.
func (c *Cycle) Increment() uint32 {
	v := c.current
	if c.current == c.max {
		c.current = c.min
	} else {
		c.current++
	}
	return v
}

// IsGreater reports whether a is "after" b in wraparound order, using the
// half-range rule: if the two values are within half the range of each
// other, ordinary comparison applies; otherwise the one that appears
// smaller is actually the one that wrapped around and is really ahead.
func IsGreater(a, b, rangeSize uint32) bool {
	halfRange := rangeSize / 2
	var diff uint32
	if a > b {
		diff = a - b
	} else {
		diff = b - a
	}
	if diff <= halfRange {
		return a > b
	}
	return a < b
}

// AbsDelta returns the wraparound-aware absolute distance between a and b.
func AbsDelta(a, b, rangeSize uint32) uint32 {
	var delta uint32
	if a > b {
		delta = a - b
	} else {
		delta = b - a
	}
	halfRange := rangeSize / 2
	if delta <= halfRange {
		return delta
	}
	return rangeSize - delta
}

// RangeSize returns the configured range size (max - min + 1).
func (c *Cycle) RangeSize() uint32 {
	return c.rangeSize
}
