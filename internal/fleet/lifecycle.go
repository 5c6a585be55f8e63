package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidTransition is returned when a lifecycle change is not allowed
	// from the current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrStopped is returned by every operation on a stopped lifecycle.
	ErrStopped = errors.New("worker stopped")
)

// StateReporter receives every state a Lifecycle enters. *Tracker
// satisfies it.
type StateReporter interface {
	ReportState(id WorkerID, state State)
}

// CanTransition reports whether a worker may move from one state to another.
//
//	RUNNING -> PAUSING -> PAUSED -> RUNNING
//	PAUSING -> RUNNING (resume before the pause was honored)
//	any     -> STOPPED (terminal)
func CanTransition(from, to State) bool {
	if from == StateStopped || !to.Valid() {
		return false
	}
	if to == StateStopped {
		return true
	}
	switch from {
	case StateRunning:
		return to == StatePausing
	case StatePausing:
		return to == StatePaused || to == StateRunning
	case StatePaused:
		return to == StateRunning
	default:
		return false
	}
}

// Lifecycle is the cooperative state machine owned by one worker. Control
// requests (pause, resume, stop) may come from any goroutine; the worker
// honors them by calling Checkpoint between units of work.
type Lifecycle struct {
	id       WorkerID
	reporter StateReporter

	mu      sync.Mutex
	state   State
	changed chan struct{}
}

// NewLifecycle creates a RUNNING lifecycle and reports that state.
func NewLifecycle(id WorkerID, reporter StateReporter) *Lifecycle {
	l := &Lifecycle{
		id:       id,
		reporter: reporter,
		state:    StateRunning,
		changed:  make(chan struct{}),
	}
	l.report(StateRunning)
	return l
}

// ID returns the worker id the lifecycle reports under.
func (l *Lifecycle) ID() WorkerID {
	return l.id
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RequestPause asks a running worker to pause after its current unit of
// work. Pausing an already pausing or paused worker is a no-op.
func (l *Lifecycle) RequestPause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StatePausing, StatePaused:
		return nil
	default:
		return l.transitionLocked(StatePausing)
	}
}

// Resume returns a pausing or paused worker to RUNNING. Resuming a running
// worker is a no-op.
func (l *Lifecycle) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning {
		return nil
	}
	return l.transitionLocked(StateRunning)
}

// Stop moves the worker to the terminal STOPPED state. It reports true the
// first time and false if the worker was already stopped.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(StateStopped) == nil
}

// Checkpoint is called by the worker between units of work. It returns nil
// when the worker may continue, honors a pending pause by entering PAUSED
// and blocking until resumed, and returns ErrStopped once stopped. It
// returns the context error if ctx ends while paused.
func (l *Lifecycle) Checkpoint(ctx context.Context) error {
	for {
		l.mu.Lock()
		switch l.state {
		case StateRunning:
			l.mu.Unlock()
			return nil
		case StateStopped:
			l.mu.Unlock()
			return ErrStopped
		case StatePausing:
			if err := l.transitionLocked(StatePaused); err != nil {
				l.mu.Unlock()
				return err
			}
		}
		wait := l.changed
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("paused worker %s: %w", l.id, ctx.Err())
		}
	}
}

func (l *Lifecycle) transitionLocked(to State) error {
	if l.state == StateStopped {
		return ErrStopped
	}
	if !CanTransition(l.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	close(l.changed)
	l.changed = make(chan struct{})
	l.report(to)
	return nil
}

func (l *Lifecycle) report(state State) {
	if l.reporter != nil {
		l.reporter.ReportState(l.id, state)
	}
}
