// Package system provides the wall clock used by the persistence and queue layers.
package system

import "time"

// Clock implements crawler.Clock. Readings are UTC and truncated to
// microseconds, the resolution both SQL backends store, so a timestamp read
// back from the database compares equal to the one that was written.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
