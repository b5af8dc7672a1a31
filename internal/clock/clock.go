package clock

import "time"

// Clock provides the time source used to stamp notifications and jobs.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
type RealClock struct{}

// Now returns current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant.
// Params: instant returned by Now.
// Returns: deterministic clock for replays and tests.
type Fixed time.Time

// Now returns the fixed instant in UTC.
func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}
