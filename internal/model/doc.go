// Package model holds the entities the crawler persists through a
// record.Store: vacancy versions, their skill/education/location tags, and
// per-worker blacklist entries.
package model
