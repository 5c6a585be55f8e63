package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/progress"
	"github.com/JakeFAU/jobhearted-crawler/internal/store"
)

// StoreSink persists worker state history and flag totals via a
// store.StatusRepository. Flag totals are collapsed to the latest value per
// flag within a batch to reduce write amplification.
type StoreSink struct {
	repo   store.StatusRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.StatusRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes state changes and removals in order, then the collapsed
// flag totals. Repository errors are returned to the hub.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	totals := make(map[string]int64)
	var latest time.Time

	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindStateChanged:
			change := store.StateChange{
				WorkerID: string(evt.WorkerID),
				State:    string(evt.State),
				At:       evt.TS,
			}
			if err := s.repo.RecordStateChange(ctx, change); err != nil {
				return fmt.Errorf("record state change: %w", err)
			}
		case progress.KindWorkerRemoved:
			if err := s.repo.DeleteWorker(ctx, string(evt.WorkerID)); err != nil {
				return fmt.Errorf("delete worker history: %w", err)
			}
		case progress.KindFlagTotal:
			totals[string(evt.Flag)] = int64(evt.Total)
			if evt.TS.After(latest) {
				latest = evt.TS
			}
		}
	}

	if len(totals) == 0 {
		return nil
	}
	if err := s.repo.UpsertFlagTotals(ctx, totals, latest); err != nil {
		return fmt.Errorf("upsert flag totals: %w", err)
	}
	s.logger.Debug("persisted flag totals", zap.Int("flags", len(totals)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
