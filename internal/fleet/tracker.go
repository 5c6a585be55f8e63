package fleet

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Tracker aggregates worker states and flag counters for the whole fleet.
// It is safe for concurrent use. Each mutating call applies its update,
// recomputes the affected totals, and notifies subscribers in one critical
// section, so a notification never reflects a partially applied update and
// every subscriber observes one worker's reports in the order they were made.
type Tracker struct {
	mu      sync.Mutex
	states  map[WorkerID]State
	counts  map[WorkerID]FlagCounts
	subs    []subscription
	nextSub uint64
	closed  bool
	logger  *zap.Logger
}

type subscription struct {
	id  uint64
	sub Subscriber
}

// NewTracker creates an empty Tracker. Call Close at application shutdown.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		states: make(map[WorkerID]State),
		counts: make(map[WorkerID]FlagCounts),
		logger: logger,
	}
}

// Subscribe registers s for every subsequent notification. The returned
// function removes the subscription; calling it more than once is harmless.
func (t *Tracker) Subscribe(s Subscriber) func() {
	if s == nil {
		return func() {}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.subs = append(t.subs, subscription{id: id, sub: s})

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(id) })
	}
}

func (t *Tracker) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// ReportState records the latest state for a worker. The first report for
// an unseen worker registers it.
func (t *Tracker) ReportState(id WorkerID, state State) {
	if !state.Valid() {
		t.logger.Warn("ignoring unknown worker state",
			zap.String("worker_id", string(id)),
			zap.String("state", string(state)),
		)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.states[id] = state
	counts := t.stateCountsLocked()
	for _, s := range t.subs {
		s.sub.OnStateChanged(id, state)
	}
	for _, s := range t.subs {
		s.sub.OnStateCountsChanged(cloneStateCounts(counts))
	}
}

// ReportFlagCount sets a worker's current count for flag. The value is
// absolute: it replaces whatever the worker reported before.
func (t *Tracker) ReportFlagCount(id WorkerID, flag Flag, count int) {
	if !flag.Valid() {
		t.logger.Warn("ignoring unknown outcome flag",
			zap.String("worker_id", string(id)),
			zap.String("flag", string(flag)),
		)
		return
	}
	if count < 0 {
		t.logger.Warn("ignoring negative flag count",
			zap.String("worker_id", string(id)),
			zap.String("flag", string(flag)),
			zap.Int("count", count),
		)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	perWorker, ok := t.counts[id]
	if !ok {
		perWorker = newFlagCounts()
		t.counts[id] = perWorker
	}
	perWorker[flag] = count
	total := t.flagTotalLocked(flag)
	for _, s := range t.subs {
		s.sub.OnFlagCountChanged(flag, total)
	}
}

// RemoveWorker drops every value the worker reported and notifies
// subscribers with the recomputed totals. Unknown workers are ignored.
func (t *Tracker) RemoveWorker(id WorkerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	_, hasState := t.states[id]
	_, hasCounts := t.counts[id]
	if !hasState && !hasCounts {
		return
	}
	delete(t.states, id)
	delete(t.counts, id)

	counts := t.stateCountsLocked()
	totals := t.flagTotalsLocked()
	for _, s := range t.subs {
		s.sub.OnWorkerRemoved(id)
		s.sub.OnStateCountsChanged(cloneStateCounts(counts))
		for _, f := range allFlags {
			s.sub.OnFlagCountChanged(f, totals[f])
		}
	}
}

// StateCounts returns the current number of workers per totalled state.
func (t *Tracker) StateCounts() StateCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateCountsLocked()
}

// FlagTotal returns the fleet-wide current count for flag.
func (t *Tracker) FlagTotal(flag Flag) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flagTotalLocked(flag)
}

// FlagTotals returns the fleet-wide current count for every flag.
func (t *Tracker) FlagTotals() FlagCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flagTotalsLocked()
}

// State returns the last state reported by a worker.
func (t *Tracker) State(id WorkerID) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[id]
	return s, ok
}

// WorkerSnapshot is the tracked view of one worker.
type WorkerSnapshot struct {
	ID     WorkerID   `json:"id"`
	State  State      `json:"state,omitempty"`
	Counts FlagCounts `json:"counts"`
}

// Snapshot is a consistent copy of everything the Tracker holds.
type Snapshot struct {
	States  StateCounts      `json:"states"`
	Flags   FlagCounts       `json:"flags"`
	Workers []WorkerSnapshot `json:"workers"`
}

// Snapshot returns a point-in-time copy of every total and worker, with
// workers sorted by id.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[WorkerID]struct{}, len(t.states)+len(t.counts))
	for id := range t.states {
		seen[id] = struct{}{}
	}
	for id := range t.counts {
		seen[id] = struct{}{}
	}
	workers := make([]WorkerSnapshot, 0, len(seen))
	for id := range seen {
		ws := WorkerSnapshot{ID: id, State: t.states[id], Counts: newFlagCounts()}
		if c, ok := t.counts[id]; ok {
			ws.Counts = c.clone()
		}
		workers = append(workers, ws)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })

	return Snapshot{
		States:  t.stateCountsLocked(),
		Flags:   t.flagTotalsLocked(),
		Workers: workers,
	}
}

// Close detaches every subscriber and makes subsequent reports no-ops.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = nil
}

func (t *Tracker) stateCountsLocked() StateCounts {
	counts := newStateCounts()
	for _, s := range t.states {
		if _, counted := counts[s]; counted {
			counts[s]++
		}
	}
	return counts
}

func (t *Tracker) flagTotalLocked(flag Flag) int {
	total := 0
	for _, c := range t.counts {
		total += c[flag]
	}
	return total
}

func (t *Tracker) flagTotalsLocked() FlagCounts {
	totals := newFlagCounts()
	for _, c := range t.counts {
		for f, v := range c {
			totals[f] += v
		}
	}
	return totals
}

func cloneStateCounts(c StateCounts) StateCounts {
	out := make(StateCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
