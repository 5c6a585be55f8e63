package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/jobhearted-crawler/internal/store"
)

// StatusStore keeps worker status history in memory.
type StatusStore struct {
	mu      sync.RWMutex
	history map[string][]store.StateChange
	totals  map[string]store.FlagTotal
}

// NewStatusStore constructs a StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		history: make(map[string][]store.StateChange),
		totals:  make(map[string]store.FlagTotal),
	}
}

// RecordStateChange appends a change to the worker's history.
func (s *StatusStore) RecordStateChange(_ context.Context, change store.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[change.WorkerID] = append(s.history[change.WorkerID], change)
	return nil
}

// UpsertFlagTotals overwrites the totals for the given flags.
func (s *StatusStore) UpsertFlagTotals(_ context.Context, totals map[string]int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for flag, total := range totals {
		s.totals[flag] = store.FlagTotal{Flag: flag, Total: total, UpdatedAt: at}
	}
	return nil
}

// DeleteWorker drops the worker's history.
func (s *StatusStore) DeleteWorker(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, workerID)
	return nil
}

// ListStateChanges returns the newest changes first.
func (s *StatusStore) ListStateChanges(_ context.Context, workerID string, limit int) ([]store.StateChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	changes := s.history[workerID]
	n := len(changes)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]store.StateChange, 0, n)
	for i := len(changes) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, changes[i])
	}
	return out, nil
}

// ListFlagTotals returns every total ordered by flag name.
func (s *StatusStore) ListFlagTotals(_ context.Context) ([]store.FlagTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.FlagTotal, 0, len(s.totals))
	for _, t := range s.totals {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Flag < out[j].Flag })
	return out, nil
}
