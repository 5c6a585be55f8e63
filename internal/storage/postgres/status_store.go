package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/jobhearted-crawler/internal/store"
)

// StatusStore implements store.StatusRepository using Postgres.
type StatusStore struct {
	pool pool
}

// NewStatusStoreWithPool constructs a StatusStore from an existing pool.
func NewStatusStoreWithPool(p pool) (*StatusStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StatusStore{pool: p}, nil
}

// RecordStateChange appends one row to worker_state_changes.
func (s *StatusStore) RecordStateChange(ctx context.Context, change store.StateChange) error {
	query := `
		INSERT INTO worker_state_changes (worker_id, state, changed_at)
		VALUES ($1, $2, $3);
	`
	if _, err := s.pool.Exec(ctx, query, change.WorkerID, change.State, change.At); err != nil {
		return fmt.Errorf("failed to record state change: %w", err)
	}
	return nil
}

// UpsertFlagTotals overwrites flag_totals rows, one statement per flag in name order.
func (s *StatusStore) UpsertFlagTotals(ctx context.Context, totals map[string]int64, at time.Time) error {
	query := `
		INSERT INTO flag_totals (flag, total, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (flag) DO UPDATE
		SET total = EXCLUDED.total, updated_at = EXCLUDED.updated_at;
	`
	flags := make([]string, 0, len(totals))
	for f := range totals {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	for _, f := range flags {
		if _, err := s.pool.Exec(ctx, query, f, totals[f], at); err != nil {
			return fmt.Errorf("failed to upsert flag total %s: %w", f, err)
		}
	}
	return nil
}

// DeleteWorker removes the worker's history rows.
func (s *StatusStore) DeleteWorker(ctx context.Context, workerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM worker_state_changes WHERE worker_id = $1;`, workerID); err != nil {
		return fmt.Errorf("failed to delete worker history: %w", err)
	}
	return nil
}

// ListStateChanges returns the newest changes for a worker first.
func (s *StatusStore) ListStateChanges(ctx context.Context, workerID string, limit int) ([]store.StateChange, error) {
	query := `
		SELECT worker_id, state, changed_at
		FROM worker_state_changes
		WHERE worker_id = $1
		ORDER BY id DESC
		LIMIT $2;
	`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, query, workerID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list state changes: %w", err)
	}
	defer rows.Close()

	var changes []store.StateChange
	for rows.Next() {
		var c store.StateChange
		if err := rows.Scan(&c.WorkerID, &c.State, &c.At); err != nil {
			return nil, fmt.Errorf("failed to scan state change row: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list state changes: %w", err)
	}
	return changes, nil
}

// ListFlagTotals returns every stored total ordered by flag.
func (s *StatusStore) ListFlagTotals(ctx context.Context) ([]store.FlagTotal, error) {
	rows, err := s.pool.Query(ctx, `SELECT flag, total, updated_at FROM flag_totals ORDER BY flag;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list flag totals: %w", err)
	}
	defer rows.Close()

	var totals []store.FlagTotal
	for rows.Next() {
		var t store.FlagTotal
		if err := rows.Scan(&t.Flag, &t.Total, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flag total row: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list flag totals: %w", err)
	}
	return totals, nil
}
