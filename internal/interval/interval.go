// Package interval implements a period-based timer with two distinct
// firing semantics: a hard reset (skip any backlog, fire once, resync to
// now) and a decrementing catch-up (fire once per elapsed period, useful
// for a fixed-rate simulation tick that must not drift).
package interval

import "time"

// Interval tracks a target time that is period seconds in the future.
type Interval struct {
	period time.Duration
	target time.Time
}

// NewSeconds creates an Interval with the given period, targeting now+period.
func NewSeconds(now time.Time, seconds float64) *Interval {
	iv := &Interval{}
	iv.SetSeconds(seconds)
	iv.Reset(now)
	return iv
}

// SetSeconds changes the period without touching the current target.
func (iv *Interval) SetSeconds(seconds float64) {
	iv.period = time.Duration(seconds * float64(time.Second))
}

// SetFrequency sets the period as 1/hz seconds.
func (iv *Interval) SetFrequency(hz float64) {
	iv.SetSeconds(1.0 / hz)
}

// Reset retargets to now+period.
func (iv *Interval) Reset(now time.Time) {
	iv.target = now.Add(iv.period)
}

// Check reports whether now has reached the target, without mutating state.
func (iv *Interval) Check(now time.Time) bool {
	return !now.Before(iv.target)
}

// CheckAndReset fires at most once: if due, it resyncs the target to
// now+period (dropping any backlog) and returns true.
func (iv *Interval) CheckAndReset(now time.Time) bool {
	if !iv.Check(now) {
		return false
	}
	iv.Reset(now)
	return true
}

// CheckAndDecrement fires at most once per call but advances the target by
// exactly one period, so a caller invoking this every frame will fire
// once for every period elapsed, catching up over several calls rather
// than resyncing to now.
func (iv *Interval) CheckAndDecrement(now time.Time) bool {
	if !iv.Check(now) {
		return false
	}
	iv.target = iv.target.Add(iv.period)
	return true
}

// DecrementAll fires CheckAndDecrement until it's no longer due, returning
// the number of fires. Used to drain a large backlog in one call.
func (iv *Interval) DecrementAll(now time.Time) int {
	n := 0
	for iv.CheckAndDecrement(now) {
		n++
	}
	return n
}
