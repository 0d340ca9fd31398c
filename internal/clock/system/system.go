// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. Decision and batch events compare
// timestamps taken here, so every component must share one Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
