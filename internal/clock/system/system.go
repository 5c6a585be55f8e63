// Package system provides the wall clock used for scrape and event
// timestamps.
package system

import "time"

// Resolution is the precision timestamps are truncated to. It matches
// Postgres timestamptz, so a stored ScrapedAt reads back unchanged.
const Resolution = time.Microsecond

// Clock implements vacancy.Clock and supplies progress hub timestamps.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at Resolution.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Resolution)
}
