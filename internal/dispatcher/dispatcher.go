// Package dispatcher runs the worker fleet and applies fleet-wide and
// per-worker control requests.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/worker"
)

var (
	// ErrUnknownWorker is returned for ids that are not part of the fleet.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrDuplicateWorker is returned when adding an id that is already present.
	ErrDuplicateWorker = errors.New("duplicate worker")
)

// Remover drops a worker's reported values. *fleet.Tracker satisfies it.
type Remover interface {
	RemoveWorker(id fleet.WorkerID)
}

type entry struct {
	w       *worker.Worker
	started bool
	done    chan struct{}
}

// Dispatcher owns the fleet's workers and their goroutines.
type Dispatcher struct {
	remover Remover
	logger  *zap.Logger

	mu      sync.Mutex
	workers map[fleet.WorkerID]*entry
	group   *errgroup.Group
	ctx     context.Context
}

// New creates a Dispatcher. remover may be nil.
func New(remover Remover, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		remover: remover,
		logger:  logger.Named("dispatcher"),
		workers: make(map[fleet.WorkerID]*entry),
	}
}

// Add registers a worker. Workers added while the fleet runs start at once.
func (d *Dispatcher) Add(w *worker.Worker) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[w.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, w.ID())
	}
	e := &entry{w: w, done: make(chan struct{})}
	d.workers[w.ID()] = e
	if d.group != nil && d.ctx.Err() == nil {
		d.startLocked(e)
	}
	return nil
}

// Run starts every worker and blocks until ctx ends, then waits for the
// workers to return.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.group != nil {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.group, d.ctx = errgroup.WithContext(ctx)
	for _, id := range d.idsLocked() {
		d.startLocked(d.workers[id])
	}
	group := d.group
	d.mu.Unlock()

	<-ctx.Done()
	if err := group.Wait(); err != nil {
		return fmt.Errorf("worker group: %w", err)
	}
	return nil
}

func (d *Dispatcher) startLocked(e *entry) {
	if e.started {
		return
	}
	e.started = true
	ctx := d.ctx
	d.group.Go(func() error {
		defer close(e.done)
		d.logger.Info("starting worker", zap.String("worker_id", string(e.w.ID())))
		return e.w.Run(ctx)
	})
}

// Worker returns the worker registered under id.
func (d *Dispatcher) Worker(id fleet.WorkerID) (*worker.Worker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.workers[id]
	if !ok {
		return nil, false
	}
	return e.w, true
}

// IDs returns the registered worker ids in sorted order.
func (d *Dispatcher) IDs() []fleet.WorkerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idsLocked()
}

// Pause asks one worker to pause.
func (d *Dispatcher) Pause(id fleet.WorkerID) error {
	w, err := d.lookup(id)
	if err != nil {
		return err
	}
	if err := w.Pause(); err != nil {
		return fmt.Errorf("pause %s: %w", id, err)
	}
	return nil
}

// Resume continues one worker.
func (d *Dispatcher) Resume(id fleet.WorkerID) error {
	w, err := d.lookup(id)
	if err != nil {
		return err
	}
	if err := w.Resume(); err != nil {
		return fmt.Errorf("resume %s: %w", id, err)
	}
	return nil
}

// StopWorker stops one worker permanently.
func (d *Dispatcher) StopWorker(id fleet.WorkerID) error {
	w, err := d.lookup(id)
	if err != nil {
		return err
	}
	w.Stop()
	return nil
}

// PauseAll asks every worker that can still run to pause.
func (d *Dispatcher) PauseAll() error {
	return d.each(func(w *worker.Worker) error { return w.Pause() })
}

// ResumeAll continues every paused or pausing worker.
func (d *Dispatcher) ResumeAll() error {
	return d.each(func(w *worker.Worker) error { return w.Resume() })
}

// Stop stops every worker.
func (d *Dispatcher) Stop() {
	_ = d.each(func(w *worker.Worker) error {
		w.Stop()
		return nil
	})
}

// Remove stops a worker, waits for its goroutine, drops it from the fleet,
// and removes its values from the tracker.
func (d *Dispatcher) Remove(ctx context.Context, id fleet.WorkerID) error {
	d.mu.Lock()
	e, ok := d.workers[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}

	e.w.Stop()
	d.mu.Lock()
	started := e.started
	d.mu.Unlock()
	if started {
		select {
		case <-e.done:
		case <-ctx.Done():
			return fmt.Errorf("remove %s: %w", id, ctx.Err())
		}
	}

	d.mu.Lock()
	delete(d.workers, id)
	d.mu.Unlock()
	if d.remover != nil {
		d.remover.RemoveWorker(id)
	}
	d.logger.Info("worker removed", zap.String("worker_id", string(id)))
	return nil
}

func (d *Dispatcher) lookup(id fleet.WorkerID) (*worker.Worker, error) {
	w, ok := d.Worker(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	return w, nil
}

// each applies fn to every worker, skipping stopped ones, and joins the
// errors.
func (d *Dispatcher) each(fn func(*worker.Worker) error) error {
	d.mu.Lock()
	workers := make([]*worker.Worker, 0, len(d.workers))
	for _, id := range d.idsLocked() {
		workers = append(workers, d.workers[id].w)
	}
	d.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if err := fn(w); err != nil && !errors.Is(err, fleet.ErrStopped) {
			errs = append(errs, fmt.Errorf("%s: %w", w.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) idsLocked() []fleet.WorkerID {
	ids := make([]fleet.WorkerID, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
