// Package badger provides an embedded record.Store backed by BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

// Config controls where the Badger files live.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
}

// association links an owner record to a related record.
type association struct {
	Key         string
	Owner       string
	RelatedKind string
	RelatedID   string
}

// RecordStore implements record.Store on badgerhold.
type RecordStore struct {
	store *badgerhold.Store
}

// Open opens (or creates) a Badger database.
func Open(cfg Config) (*RecordStore, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil
	if cfg.InMemory {
		options.InMemory = true
		options.Dir = ""
		options.ValueDir = ""
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("store.badger.dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		options.Dir = cfg.Dir
		options.ValueDir = cfg.Dir
	}
	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &RecordStore{store: store}, nil
}

// Close closes the database.
func (s *RecordStore) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

// FindByEquals returns every record of kind whose field equals value, in id order.
func (s *RecordStore) FindByEquals(_ context.Context, kind record.Kind, field string, value any) ([]record.Record, error) {
	ops, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	goField, ok := ops.fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", record.ErrUnknownField, kind, field)
	}
	value, err = coerce(field, value)
	if err != nil {
		return nil, err
	}
	recs, err := ops.find(s.store, badgerhold.Where(goField).Eq(value).SortBy("ID"))
	if err != nil {
		return nil, record.Unavailable("find "+string(kind), err)
	}
	return recs, nil
}

// Save upserts a record by id.
func (s *RecordStore) Save(_ context.Context, rec record.Record) error {
	if rec == nil || rec.RecordID() == "" {
		return errors.New("record id is required")
	}
	if _, err := lookup(rec.RecordKind()); err != nil {
		return err
	}
	if err := s.store.Upsert(rec.RecordID(), rec); err != nil {
		return record.Unavailable("save "+string(rec.RecordKind()), err)
	}
	return nil
}

// AddAssociation links owner to related. Both must already be saved.
func (s *RecordStore) AddAssociation(_ context.Context, owner, related record.Record) error {
	for _, rec := range []record.Record{owner, related} {
		ops, err := lookup(rec.RecordKind())
		if err != nil {
			return err
		}
		if err := ops.get(s.store, rec.RecordID()); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s %s", record.ErrNotFound, rec.RecordKind(), rec.RecordID())
			}
			return record.Unavailable("associate", err)
		}
	}
	a := association{
		Key:         linkKey(owner, related),
		Owner:       ownerKey(owner),
		RelatedKind: string(related.RecordKind()),
		RelatedID:   related.RecordID(),
	}
	if err := s.store.Upsert(a.Key, &a); err != nil {
		return record.Unavailable("associate", err)
	}
	return nil
}

// RemoveAssociation unlinks owner from related.
func (s *RecordStore) RemoveAssociation(_ context.Context, owner, related record.Record) error {
	err := s.store.Delete(linkKey(owner, related), &association{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return record.Unavailable("dissociate", err)
	}
	return nil
}

// Associated lists the records of kind linked to owner, in related id order.
func (s *RecordStore) Associated(_ context.Context, owner record.Record, kind record.Kind) ([]record.Record, error) {
	ops, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	var links []association
	q := badgerhold.Where("Owner").Eq(ownerKey(owner)).And("RelatedKind").Eq(string(kind)).SortBy("RelatedID")
	if err := s.store.Find(&links, q); err != nil {
		return nil, record.Unavailable("list "+string(kind), err)
	}
	out := make([]record.Record, 0, len(links))
	for _, l := range links {
		recs, err := ops.find(s.store, badgerhold.Where("ID").Eq(l.RelatedID))
		if err != nil {
			return nil, record.Unavailable("list "+string(kind), err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func ownerKey(r record.Record) string {
	return string(r.RecordKind()) + "/" + r.RecordID()
}

func linkKey(owner, related record.Record) string {
	return ownerKey(owner) + "/" + ownerKey(related)
}

func coerce(field string, value any) (any, error) {
	switch field {
	case model.FieldSourceURLID:
		switch n := value.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case model.FieldVersion:
		switch n := value.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		}
	default:
		return value, nil
	}
	return nil, fmt.Errorf("unsupported value %T for %s", value, field)
}
