// Package store defines interfaces for persistence dependencies outside the
// record model (e.g. worker status history). Implementations live in other
// packages; this package must not import database drivers or concrete clients.
package store
