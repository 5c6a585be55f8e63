package fleet

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTrackerFlagTotalIsSumOfLatestReports checks totals are order independent.
func TestTrackerFlagTotalIsSumOfLatestReports(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	tr.ReportFlagCount("w1", FlagVisited, 3)
	tr.ReportFlagCount("w2", FlagVisited, 10)
	tr.ReportFlagCount("w1", FlagVisited, 7)
	tr.ReportFlagCount("w1", FlagVisited, 7)
	tr.ReportFlagCount("w2", FlagDead, 1)

	require.Equal(t, 17, tr.FlagTotal(FlagVisited))
	require.Equal(t, 1, tr.FlagTotal(FlagDead))
	require.Equal(t, 0, tr.FlagTotal(FlagFound))
}

// TestTrackerNotifiesFlagTotals ensures subscribers receive the recomputed total.
func TestTrackerNotifiesFlagTotals(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	rec := &recordingSubscriber{}
	tr.Subscribe(rec)

	tr.ReportFlagCount("w1", FlagFound, 4)
	tr.ReportFlagCount("w2", FlagFound, 6)
	tr.ReportFlagCount("w1", FlagFound, 5)

	require.Equal(t, []string{
		"flag FOUND=4",
		"flag FOUND=10",
		"flag FOUND=11",
	}, rec.Events())
}

// TestTrackerReportStateNotifiesStateThenCounts covers notification order for state reports.
func TestTrackerReportStateNotifiesStateThenCounts(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	rec := &recordingSubscriber{}
	tr.Subscribe(rec)

	tr.ReportState("w1", StateRunning)
	tr.ReportState("w2", StatePausing)
	tr.ReportState("w2", StatePaused)

	require.Equal(t, []string{
		"state w1=RUNNING",
		"counts running=1 paused=0 stopped=0",
		"state w2=PAUSING",
		"counts running=1 paused=0 stopped=0",
		"state w2=PAUSED",
		"counts running=1 paused=1 stopped=0",
	}, rec.Events())
	_, hasPausing := tr.StateCounts()[StatePausing]
	require.False(t, hasPausing, "pausing has no dedicated total")
}

// TestTrackerRemoveWorkerExcludesValues verifies removal drops state and counters.
func TestTrackerRemoveWorkerExcludesValues(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	tr.ReportState("w1", StateRunning)
	tr.ReportState("w2", StateStopped)
	tr.ReportFlagCount("w1", FlagVisited, 5)
	tr.ReportFlagCount("w2", FlagVisited, 2)

	rec := &recordingSubscriber{}
	tr.Subscribe(rec)
	tr.RemoveWorker("w1")

	require.Equal(t, 2, tr.FlagTotal(FlagVisited))
	require.Equal(t, StateCounts{StateRunning: 0, StatePaused: 0, StateStopped: 1}, tr.StateCounts())
	_, ok := tr.State("w1")
	require.False(t, ok)

	events := rec.Events()
	require.Equal(t, "removed w1", events[0])
	require.Equal(t, "counts running=0 paused=0 stopped=1", events[1])
	require.Contains(t, events, "flag VISITED=2")
	require.Len(t, events, 2+len(Flags()))
}

// TestTrackerRemoveUnknownWorkerIsNoop asserts unknown ids change nothing.
func TestTrackerRemoveUnknownWorkerIsNoop(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	tr.ReportFlagCount("w1", FlagRetry, 3)
	tr.ReportState("w1", StateRunning)
	before := tr.Snapshot()

	rec := &recordingSubscriber{}
	tr.Subscribe(rec)
	tr.RemoveWorker("never-seen")

	require.Empty(t, rec.Events())
	require.Equal(t, before, tr.Snapshot())
}

// TestTrackerIgnoresInvalidReports keeps unknown flags, states and negative counts out of totals.
func TestTrackerIgnoresInvalidReports(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	rec := &recordingSubscriber{}
	tr.Subscribe(rec)

	tr.ReportFlagCount("w1", Flag("BOGUS"), 3)
	tr.ReportFlagCount("w1", FlagFound, -1)
	tr.ReportState("w1", State("SLEEPING"))

	require.Empty(t, rec.Events())
	require.Empty(t, tr.Snapshot().Workers)
}

// TestTrackerUnsubscribe stops delivery to removed subscribers.
func TestTrackerUnsubscribe(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	rec := &recordingSubscriber{}
	unsubscribe := tr.Subscribe(rec)
	tr.ReportFlagCount("w1", FlagFile, 1)
	unsubscribe()
	unsubscribe()
	tr.ReportFlagCount("w1", FlagFile, 2)

	require.Equal(t, []string{"flag FILE=1"}, rec.Events())
}

// TestTrackerCloseDetachesSubscribers ensures reports after Close are ignored.
func TestTrackerCloseDetachesSubscribers(t *testing.T) {
	t.Parallel()

	tr := NewTracker(nil)
	rec := &recordingSubscriber{}
	tr.Subscribe(rec)
	tr.Close()
	tr.ReportState("w1", StateRunning)

	require.Empty(t, rec.Events())
	require.Equal(t, 0, tr.StateCounts()[StateRunning])
}

// TestTrackerSnapshotBeforeReports shows zero totals before any data arrives.
func TestTrackerSnapshotBeforeReports(t *testing.T) {
	t.Parallel()

	snap := NewTracker(nil).Snapshot()
	require.Empty(t, snap.Workers)
	require.Len(t, snap.Flags, len(Flags()))
	for _, f := range Flags() {
		require.Zero(t, snap.Flags[f])
	}
	require.Equal(t, StateCounts{StateRunning: 0, StatePaused: 0, StateStopped: 0}, snap.States)
}

// TestTrackerConcurrentReportsMatchSequential runs N workers reporting in parallel.
func TestTrackerConcurrentReportsMatchSequential(t *testing.T) {
	t.Parallel()

	const (
		workers = 16
		reports = 200
	)
	tr := NewTracker(nil)
	ordered := newOrderChecker()
	tr.Subscribe(ordered)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := WorkerID(fmt.Sprintf("w%02d", w))
			rng := rand.New(rand.NewSource(int64(w)))
			for i := 1; i <= reports; i++ {
				flag := allFlags[rng.Intn(len(allFlags))]
				tr.ReportFlagCount(id, flag, i)
				if i%10 == 0 {
					tr.ReportState(id, StatePausing)
				}
				tr.ReportState(id, StateRunning)
			}
			if w%4 == 0 {
				tr.ReportState(id, StateStopped)
			}
		}(w)
	}
	wg.Wait()

	// Sequential-equivalent: each worker's last report per flag.
	want := newFlagCounts()
	for w := 0; w < workers; w++ {
		rng := rand.New(rand.NewSource(int64(w)))
		last := map[Flag]int{}
		for i := 1; i <= reports; i++ {
			last[allFlags[rng.Intn(len(allFlags))]] = i
		}
		for f, v := range last {
			want[f] += v
		}
	}
	require.Equal(t, want, tr.FlagTotals())
	require.Equal(t, StateCounts{StateRunning: 12, StatePaused: 0, StateStopped: 4}, tr.StateCounts())
	require.NoError(t, ordered.Err())
}

type recordingSubscriber struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSubscriber) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingSubscriber) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingSubscriber) OnStateChanged(id WorkerID, state State) {
	r.record(fmt.Sprintf("state %s=%s", id, state))
}

func (r *recordingSubscriber) OnFlagCountChanged(flag Flag, total int) {
	r.record(fmt.Sprintf("flag %s=%d", flag, total))
}

func (r *recordingSubscriber) OnStateCountsChanged(c StateCounts) {
	r.record(fmt.Sprintf("counts running=%d paused=%d stopped=%d",
		c[StateRunning], c[StatePaused], c[StateStopped]))
}

func (r *recordingSubscriber) OnWorkerRemoved(id WorkerID) {
	r.record(fmt.Sprintf("removed %s", id))
}

// orderChecker verifies that a worker never goes from STOPPED back to another
// state in the delivered stream, which would indicate reordered delivery.
type orderChecker struct {
	SubscriberFuncs
	mu      sync.Mutex
	stopped map[WorkerID]bool
	err     error
}

func newOrderChecker() *orderChecker {
	c := &orderChecker{stopped: make(map[WorkerID]bool)}
	c.StateChanged = c.onState
	return c
}

func (c *orderChecker) onState(id WorkerID, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped[id] && c.err == nil {
		c.err = fmt.Errorf("worker %s reported %s after STOPPED", id, state)
	}
	if state == StateStopped {
		c.stopped[id] = true
	}
}

func (c *orderChecker) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
