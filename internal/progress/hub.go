package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity for queued transitions (default 4096).
//   - MaxBatchEvents: flush once this many transitions queue (default 1000).
//   - MaxBatchWait: longest a pending event waits for a flush (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
//   - Now: timestamp source for events built from tracker callbacks (defaults to time.Now).
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
	Now            func() time.Time
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats reports what the hub did not forward one for one.
type Stats struct {
	// Dropped counts transitions lost to a full buffer, by kind.
	Dropped map[Kind]uint64
	// Merged counts totals replaced by a newer value before they were flushed.
	Merged uint64
}

// Hub fans tracker events out to sinks on a single goroutine. It never
// blocks callers, because the tracker notifies subscribers while holding
// its lock.
//
// Events travel two ways. Transitions (STATE_CHANGED, WORKER_REMOVED) are
// queued in order and dropped only when the buffer is full. Totals
// (FLAG_TOTAL, STATE_COUNTS) each describe the whole fleet, so only the
// newest value per flag, and the newest state counts, is kept until the
// next flush. A slow sink therefore never costs the latest totals. Each
// batch lists its transitions first, then the pending totals.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	events chan Event
	// wake is signalled when the pending totals stop being empty.
	wake    chan struct{}
	mu      sync.Mutex
	flags   map[fleet.Flag]Event
	counts  *Event
	merged  atomic.Uint64
	dropped map[Kind]*atomic.Uint64
	dropLog rate.Sometimes

	stopCh    chan struct{}
	doneCh    chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub that forwards to sinks. It is ready for events
// immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
		wake:   make(chan struct{}, 1),
		flags:  make(map[fleet.Flag]Event),
		dropped: map[Kind]*atomic.Uint64{
			KindStateChanged:  new(atomic.Uint64),
			KindWorkerRemoved: new(atomic.Uint64),
		},
		dropLog: rate.Sometimes{Interval: dropLogInterval},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit hands an event to the hub without blocking. Invalid events and
// events after Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid fleet event", zap.String("kind", string(evt.Kind)), zap.Error(err))
		return
	}
	switch evt.Kind {
	case KindFlagTotal, KindStateCounts:
		h.keepLatest(evt)
	default:
		h.enqueue(evt)
	}
}

// Stats returns a snapshot of the drop and merge counters.
func (h *Hub) Stats() Stats {
	out := Stats{Dropped: make(map[Kind]uint64, len(h.dropped)), Merged: h.merged.Load()}
	for kind, n := range h.dropped {
		out.Dropped[kind] = n.Load()
	}
	return out
}

// Close flushes everything still pending, closes the sinks and waits for
// the batching goroutine to exit. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) enqueue(evt Event) {
	select {
	case h.events <- evt:
		return
	default:
	}
	h.dropped[evt.Kind].Add(1)
	h.dropLog.Do(func() {
		h.logger.Warn("fleet transitions dropped due to backpressure",
			zap.Uint64("state_changes", h.dropped[KindStateChanged].Load()),
			zap.Uint64("worker_removals", h.dropped[KindWorkerRemoved].Load()),
		)
	})
}

func (h *Hub) keepLatest(evt Event) {
	h.mu.Lock()
	wasEmpty := len(h.flags) == 0 && h.counts == nil
	var replaced bool
	if evt.Kind == KindFlagTotal {
		_, replaced = h.flags[evt.Flag]
		h.flags[evt.Flag] = evt
	} else {
		replaced = h.counts != nil
		h.counts = &evt
	}
	h.mu.Unlock()

	if replaced {
		h.merged.Add(1)
	}
	if wasEmpty {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
}

// takeLatest empties the pending totals, flags in fleet.Flags order and
// state counts last.
func (h *Hub) takeLatest() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, flag := range fleet.Flags() {
		if evt, ok := h.flags[flag]; ok {
			out = append(out, evt)
			delete(h.flags, flag)
		}
	}
	if h.counts != nil {
		out = append(out, *h.counts)
		h.counts = nil
	}
	return out
}

func (h *Hub) run() {
	defer close(h.doneCh)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	// due fires MaxBatchWait after the first event of a batch arrived.
	var due <-chan time.Time
	arm := func() {
		if due == nil {
			due = time.After(h.cfg.MaxBatchWait)
		}
	}
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) < h.cfg.MaxBatchEvents {
				arm()
				continue
			}
		case <-h.wake:
			arm()
			continue
		case <-due:
		case <-h.stopCh:
			h.drain(batch)
			return
		}
		h.flush(batch)
		batch = batch[:0]
		due = nil
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
			h.closeSinks()
			stats := h.Stats()
			h.logger.Info("progress hub stopped",
				zap.Uint64("dropped_state_changes", stats.Dropped[KindStateChanged]),
				zap.Uint64("dropped_worker_removals", stats.Dropped[KindWorkerRemoved]),
				zap.Uint64("merged_totals", stats.Merged),
			)
			return
		}
	}
}

func (h *Hub) flush(transitions []Event) {
	out := append(append([]Event(nil), transitions...), h.takeLatest()...)
	if len(out) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("batch", len(out)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
