// Package vacancy decides whether a freshly scraped posting is new, a new
// version of a known posting, or a duplicate, and persists the outcome
// through a record.Store.
//
// Only one record per source URL id is active at a time. Superseding or
// retiring a record removes its skill, education and location tags first,
// so tags are only ever attached to active records.
package vacancy
