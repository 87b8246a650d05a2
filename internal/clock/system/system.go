// Package system provides a wall clock pinned to a time zone.
package system

import "time"

// Clock returns the current time in its location. Calendar dates written to
// the watchlist are derived from it, so the location decides when "today"
// rolls over.
type Clock struct {
	loc *time.Location
}

// New creates a Clock in the process's local time zone.
func New() *Clock {
	return NewIn(time.Local)
}

// NewIn creates a Clock in loc. A nil loc means UTC.
func NewIn(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's time zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}
