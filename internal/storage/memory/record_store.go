package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

var errEmptyID = errors.New("record id is empty")

type cloner interface {
	CloneRecord() record.Record
}

type ref struct {
	kind record.Kind
	id   string
}

// RecordStore is an in-process record.Store for development and tests.
// Records are returned as copies; query results keep insertion order.
type RecordStore struct {
	mu      sync.RWMutex
	records map[record.Kind]map[string]record.Record
	order   map[record.Kind][]string
	links   map[ref][]ref
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[record.Kind]map[string]record.Record),
		order:   make(map[record.Kind][]string),
		links:   make(map[ref][]ref),
	}
}

// FindByEquals returns copies of every record of kind whose field equals value.
func (s *RecordStore) FindByEquals(_ context.Context, kind record.Kind, field string, value any) ([]record.Record, error) {
	proto, err := model.New(kind)
	if err != nil {
		return nil, err
	}
	if _, ok := proto.Value(field); !ok {
		return nil, fmt.Errorf("%w: %s.%s", record.ErrUnknownField, kind, field)
	}
	want := normalize(value)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []record.Record
	for _, id := range s.order[kind] {
		rec := s.records[kind][id]
		got, _ := rec.Value(field)
		if normalize(got) == want {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

// Save inserts or replaces a record by id.
func (s *RecordStore) Save(_ context.Context, rec record.Record) error {
	if rec == nil || rec.RecordID() == "" {
		return errEmptyID
	}
	kind := rec.RecordKind()
	if _, err := model.New(kind); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.records[kind]
	if !ok {
		byID = make(map[string]record.Record)
		s.records[kind] = byID
	}
	if _, exists := byID[rec.RecordID()]; !exists {
		s.order[kind] = append(s.order[kind], rec.RecordID())
	}
	byID[rec.RecordID()] = clone(rec)
	return nil
}

// AddAssociation links owner to related. Both must already be saved.
func (s *RecordStore) AddAssociation(_ context.Context, owner, related record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.existsLocked(owner); err != nil {
		return err
	}
	if err := s.existsLocked(related); err != nil {
		return err
	}
	o, r := refOf(owner), refOf(related)
	for _, existing := range s.links[o] {
		if existing == r {
			return nil
		}
	}
	s.links[o] = append(s.links[o], r)
	return nil
}

// RemoveAssociation unlinks owner from related.
func (s *RecordStore) RemoveAssociation(_ context.Context, owner, related record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, r := refOf(owner), refOf(related)
	links := s.links[o]
	for i, existing := range links {
		if existing == r {
			s.links[o] = append(links[:i], links[i+1:]...)
			break
		}
	}
	if len(s.links[o]) == 0 {
		delete(s.links, o)
	}
	return nil
}

// Associated lists copies of the records of kind linked to owner.
func (s *RecordStore) Associated(_ context.Context, owner record.Record, kind record.Kind) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []record.Record
	for _, r := range s.links[refOf(owner)] {
		if r.kind != kind {
			continue
		}
		if rec, ok := s.records[r.kind][r.id]; ok {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

// Count returns how many records of kind are stored.
func (s *RecordStore) Count(kind record.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[kind])
}

func (s *RecordStore) existsLocked(rec record.Record) error {
	if rec == nil {
		return errEmptyID
	}
	if _, ok := s.records[rec.RecordKind()][rec.RecordID()]; !ok {
		return fmt.Errorf("%w: %s %s", record.ErrNotFound, rec.RecordKind(), rec.RecordID())
	}
	return nil
}

func refOf(rec record.Record) ref {
	return ref{kind: rec.RecordKind(), id: rec.RecordID()}
}

func clone(rec record.Record) record.Record {
	if c, ok := rec.(cloner); ok {
		return c.CloneRecord()
	}
	return rec
}

// normalize folds integer widths together so an int64 field matches an int query.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case int16:
		return int64(n)
	case int8:
		return int64(n)
	default:
		return v
	}
}
