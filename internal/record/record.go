// Package record defines the persistent-record abstraction the crawler core
// depends on. Implementations live under internal/storage; this package must
// not import database drivers or concrete clients.
package record

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable signals that a store read or write failed. Callers
	// surface it rather than degrading silently.
	ErrDataUnavailable = errors.New("record data unavailable")
	// ErrNotFound signals that a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownField signals a query on a field the record kind lacks.
	ErrUnknownField = errors.New("unknown record field")
	// ErrUnsupportedKind signals a record kind the store cannot persist.
	ErrUnsupportedKind = errors.New("unsupported record kind")
)

// Kind names an entity type.
type Kind string

// Entity kinds persisted by the crawler.
const (
	KindVacancy        Kind = "vacancy"
	KindBlacklistEntry Kind = "blacklist_entry"
	KindSkill          Kind = "skill"
	KindEducation      Kind = "education"
	KindLocation       Kind = "location"
)

// Record is one persisted entity.
type Record interface {
	RecordKind() Kind
	RecordID() string
	// Value returns the value of a named field for equality queries.
	Value(field string) (any, bool)
}

// Store is a generic persistent-record store.
type Store interface {
	// FindByEquals returns every record of kind whose field equals value.
	FindByEquals(ctx context.Context, kind Kind, field string, value any) ([]Record, error)
	// Save inserts or replaces a record by id.
	Save(ctx context.Context, rec Record) error
	// AddAssociation links owner to related. Adding an existing link is a no-op.
	AddAssociation(ctx context.Context, owner, related Record) error
	// RemoveAssociation unlinks owner from related. Removing a missing link is a no-op.
	RemoveAssociation(ctx context.Context, owner, related Record) error
	// Associated lists the records of kind currently linked to owner.
	Associated(ctx context.Context, owner Record, kind Kind) ([]Record, error)
}

// Unavailable wraps a store failure so callers can match ErrDataUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDataUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDataUnavailable, err)
}
