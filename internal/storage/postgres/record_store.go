package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

// RecordStore implements record.Store on Postgres.
type RecordStore struct {
	pool pool
}

// NewRecordStoreWithPool constructs a store from an existing pool.
func NewRecordStoreWithPool(p pool) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FindByEquals returns every record of kind whose column equals value, in id order.
func (s *RecordStore) FindByEquals(ctx context.Context, kind record.Kind, field string, value any) ([]record.Record, error) {
	tbl, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}
	if !tbl.hasColumn(field) || !validTableName.MatchString(field) {
		return nil, fmt.Errorf("%w: %s.%s", record.ErrUnknownField, kind, field)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 ORDER BY id", tbl.selectList(""), tbl.table, field)
	rows, err := s.pool.Query(ctx, query, value)
	if err != nil {
		return nil, record.Unavailable("find "+string(kind), err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		rec, err := tbl.scan(rows)
		if err != nil {
			return nil, record.Unavailable("scan "+string(kind), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, record.Unavailable("find "+string(kind), err)
	}
	return out, nil
}

// Save upserts a record by id.
func (s *RecordStore) Save(ctx context.Context, rec record.Record) error {
	if rec == nil || rec.RecordID() == "" {
		return errors.New("record id is required")
	}
	tbl, err := lookupTable(rec.RecordKind())
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, tbl.upsertSQL(), tbl.values(rec)...); err != nil {
		return record.Unavailable("save "+string(rec.RecordKind()), err)
	}
	return nil
}

// AddAssociation links a vacancy to a tag. Existing links are left alone.
func (s *RecordStore) AddAssociation(ctx context.Context, owner, related record.Record) error {
	j, err := lookupJoin(owner.RecordKind(), related.RecordKind())
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		j.table, j.ownerCol, j.relatedCol)
	if _, err := s.pool.Exec(ctx, query, owner.RecordID(), related.RecordID()); err != nil {
		return record.Unavailable("associate "+string(related.RecordKind()), err)
	}
	return nil
}

// RemoveAssociation unlinks a vacancy from a tag.
func (s *RecordStore) RemoveAssociation(ctx context.Context, owner, related record.Record) error {
	j, err := lookupJoin(owner.RecordKind(), related.RecordKind())
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2", j.table, j.ownerCol, j.relatedCol)
	if _, err := s.pool.Exec(ctx, query, owner.RecordID(), related.RecordID()); err != nil {
		return record.Unavailable("dissociate "+string(related.RecordKind()), err)
	}
	return nil
}

// Associated lists the tags of kind linked to a vacancy, in id order.
func (s *RecordStore) Associated(ctx context.Context, owner record.Record, kind record.Kind) ([]record.Record, error) {
	j, err := lookupJoin(owner.RecordKind(), kind)
	if err != nil {
		return nil, err
	}
	tbl, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s t JOIN %s j ON j.%s = t.id WHERE j.%s = $1 ORDER BY t.id",
		tbl.selectList("t"), tbl.table, j.table, j.relatedCol, j.ownerCol)
	rows, err := s.pool.Query(ctx, query, owner.RecordID())
	if err != nil {
		return nil, record.Unavailable("list "+string(kind), err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		rec, err := tbl.scan(rows)
		if err != nil {
			return nil, record.Unavailable("scan "+string(kind), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, record.Unavailable("list "+string(kind), err)
	}
	return out, nil
}

func lookupTable(kind record.Kind) (tableSpec, error) {
	tbl, ok := tables[kind]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %s", record.ErrUnsupportedKind, kind)
	}
	return tbl, nil
}
