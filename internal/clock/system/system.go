// Package system provides the wall-clock implementation of harvest.Clock.
package system

import "time"

// Clock returns real time.
type Clock struct{}

// New returns a system Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now()
}
