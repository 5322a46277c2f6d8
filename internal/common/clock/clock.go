// Package clock abstracts wall-clock access so sliding-window and expiry
// logic can be driven deterministically in tests. All times are UTC.
package clock

import "time"

// Clock provides the current time and timer channels.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
	// After waits for the duration to elapse and then sends the current
	// time on the returned channel.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// New returns a Clock backed by the system wall clock.
func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
