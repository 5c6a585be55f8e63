// Package store declares interfaces for persisting fleet status history.
package store

import (
	"context"
	"time"
)

// StateChange is one lifecycle state a worker entered.
type StateChange struct {
	// WorkerID identifies the reporting worker.
	WorkerID string `json:"worker_id"`
	// State is the state name (RUNNING, PAUSING, PAUSED, STOPPED).
	State string `json:"state"`
	// At is when the hub observed the change.
	At time.Time `json:"at"`
}

// FlagTotal is the latest fleet-wide total for one outcome flag.
type FlagTotal struct {
	Flag      string    `json:"flag"`
	Total     int64     `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusRepository persists worker state transitions and flag totals.
type StatusRepository interface {
	// RecordStateChange appends a state transition to the worker's history.
	RecordStateChange(ctx context.Context, change StateChange) error
	// UpsertFlagTotals overwrites the stored totals for the given flags.
	UpsertFlagTotals(ctx context.Context, totals map[string]int64, at time.Time) error
	// DeleteWorker drops the history of a worker removed from the fleet.
	DeleteWorker(ctx context.Context, workerID string) error
	// ListStateChanges returns the newest changes for a worker, newest first.
	// A limit <= 0 returns every change.
	ListStateChanges(ctx context.Context, workerID string, limit int) ([]StateChange, error)
	// ListFlagTotals returns every stored flag total ordered by flag.
	ListFlagTotals(ctx context.Context) ([]FlagTotal, error)
}
