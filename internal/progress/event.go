// Package progress defines the events forwarded from the fleet tracker.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
)

// Kind denotes which tracker notification an Event carries.
type Kind string

// Supported event kinds, one per fleet.Subscriber callback.
const (
	KindStateChanged  Kind = "STATE_CHANGED"
	KindFlagTotal     Kind = "FLAG_TOTAL"
	KindStateCounts   Kind = "STATE_COUNTS"
	KindWorkerRemoved Kind = "WORKER_REMOVED"
)

// Event captures one tracker notification.
type Event struct {
	// Kind selects which of the remaining fields are meaningful.
	Kind Kind `json:"kind"`
	// TS is the UTC time the hub observed the notification.
	TS time.Time `json:"ts"`
	// WorkerID is set for STATE_CHANGED and WORKER_REMOVED.
	WorkerID fleet.WorkerID `json:"worker_id,omitempty"`
	// State is the state a worker entered (STATE_CHANGED).
	State fleet.State `json:"state,omitempty"`
	// Flag and Total carry a fleet-wide flag total (FLAG_TOTAL).
	Flag  fleet.Flag `json:"flag,omitempty"`
	Total int        `json:"total,omitempty"`
	// Counts holds workers per totalled state (STATE_COUNTS).
	Counts fleet.StateCounts `json:"counts,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStateChanged:
		if e.WorkerID == "" {
			return errors.New("state change requires worker id")
		}
		if !e.State.Valid() {
			return fmt.Errorf("state change has invalid state %q", e.State)
		}
	case KindFlagTotal:
		if !e.Flag.Valid() {
			return fmt.Errorf("flag total has invalid flag %q", e.Flag)
		}
		if e.Total < 0 {
			return errors.New("flag total must be >= 0")
		}
	case KindStateCounts:
		if e.Counts == nil {
			return errors.New("state counts are required")
		}
	case KindWorkerRemoved:
		if e.WorkerID == "" {
			return errors.New("worker removal requires worker id")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}
