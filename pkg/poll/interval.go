// Package poll waits on a remote condition with an adaptive interval,
// keeping its progress in task state so a restarted task resumes its backoff
// schedule instead of starting over.
package poll

import "time"

// Interval bounds the delay between consecutive polls.
type Interval struct {
	Min time.Duration
	Max time.Duration
}

// Fixed returns an interval that never grows.
func Fixed(d time.Duration) Interval {
	return Interval{Min: d, Max: d}
}

func (i Interval) normalized() Interval {
	if i.Min <= 0 {
		i.Min = time.Second
	}
	if i.Max < i.Min {
		i.Max = i.Min
	}
	return i
}

// Next returns the delay before the next poll after waiting for elapsed.
//
// The delay starts at Min and doubles while twice the current delay still
// fits in elapsed, then is clamped to Max. It never decreases as elapsed
// grows.
func (i Interval) Next(elapsed time.Duration) time.Duration {
	i = i.normalized()
	d := i.Min
	for d < i.Max && 2*d <= elapsed {
		d *= 2
	}
	if d > i.Max {
		d = i.Max
	}
	return d
}

// ForAttempt returns Min*2^attempt, capped at Max.
func (i Interval) ForAttempt(attempt int) time.Duration {
	i = i.normalized()
	d := i.Min
	for n := 0; n < attempt && d < i.Max; n++ {
		d *= 2
	}
	if d > i.Max {
		d = i.Max
	}
	return d
}
