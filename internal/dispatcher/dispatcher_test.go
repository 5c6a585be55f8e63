package dispatcher

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/vacancy"
	"github.com/JakeFAU/jobhearted-crawler/internal/worker"
)

const base = "http://jobs.example.com"

// loopFetcher serves an endless chain of pages so workers keep running
// until they are paused or stopped.
type loopFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *loopFetcher) Fetch(ctx context.Context, url string) (worker.Outcome, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	n := len(f.calls)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return worker.Outcome{}, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	next := base + "/page/" + strconv.Itoa(n)
	return worker.Outcome{URL: url, Flag: fleet.FlagVisited, Links: []string{next}}, nil
}

type allowAll struct{}

func (allowAll) IsAllowed(string) bool { return true }
func (allowAll) Reason(string) string  { return "" }

type noVacancies struct{}

func (noVacancies) Submit(context.Context, int64, vacancy.Fields) (vacancy.Result, error) {
	return vacancy.Skipped, nil
}
func (noVacancies) Retire(context.Context, int64) (bool, error) { return false, nil }

func newWorker(t *testing.T, id fleet.WorkerID, tracker *fleet.Tracker) *worker.Worker {
	t.Helper()
	w, err := worker.New(
		worker.Config{ID: id, Seeds: []string{base + "/" + string(id)}},
		worker.Dependencies{Admission: allowAll{}, Fetcher: &loopFetcher{}, Vacancies: noVacancies{}, Reporter: tracker},
		zap.NewNop(),
	)
	require.NoError(t, err)
	return w
}

func startFleet(t *testing.T, d *Dispatcher) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

// TestDispatcherRunStartsWorkersAndStopsOnCancel ensures workers run and
// end STOPPED once the context is canceled.
func TestDispatcherRunStartsWorkersAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	tracker := fleet.NewTracker(nil)
	d := New(tracker, zap.NewNop())
	require.NoError(t, d.Add(newWorker(t, "w1", tracker)))
	require.NoError(t, d.Add(newWorker(t, "w2", tracker)))

	cancel, done := startFleet(t, d)
	require.Eventually(t, func() bool {
		return tracker.FlagTotal(fleet.FlagVisited) >= 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	require.Equal(t, 2, tracker.StateCounts()[fleet.StateStopped])
}

func TestDispatcherPauseAllResumeAll(t *testing.T) {
	t.Parallel()

	tracker := fleet.NewTracker(nil)
	d := New(tracker, nil)
	require.NoError(t, d.Add(newWorker(t, "w1", tracker)))
	require.NoError(t, d.Add(newWorker(t, "w2", tracker)))
	startFleet(t, d)

	require.NoError(t, d.PauseAll())
	require.Eventually(t, func() bool {
		return tracker.StateCounts()[fleet.StatePaused] == 2
	}, time.Second, 5*time.Millisecond)

	visited := tracker.FlagTotal(fleet.FlagVisited)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, visited, tracker.FlagTotal(fleet.FlagVisited), "paused fleet kept fetching")

	require.NoError(t, d.ResumeAll())
	require.Eventually(t, func() bool {
		return tracker.StateCounts()[fleet.StateRunning] == 2 &&
			tracker.FlagTotal(fleet.FlagVisited) > visited
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherPerWorkerControl(t *testing.T) {
	t.Parallel()

	tracker := fleet.NewTracker(nil)
	d := New(tracker, nil)
	require.NoError(t, d.Add(newWorker(t, "w1", tracker)))
	require.NoError(t, d.Add(newWorker(t, "w2", tracker)))
	startFleet(t, d)

	require.NoError(t, d.Pause("w1"))
	require.Eventually(t, func() bool {
		s, _ := tracker.State("w1")
		return s == fleet.StatePaused
	}, time.Second, 5*time.Millisecond)
	s, _ := tracker.State("w2")
	require.Equal(t, fleet.StateRunning, s)

	require.NoError(t, d.StopWorker("w1"))
	require.ErrorIs(t, d.Resume("w1"), fleet.ErrStopped)
	require.ErrorIs(t, d.Pause("nope"), ErrUnknownWorker)
	require.ErrorIs(t, d.StopWorker("nope"), ErrUnknownWorker)

	// Stopped workers are skipped by fleet-wide requests.
	require.NoError(t, d.ResumeAll())
	require.NoError(t, d.PauseAll())
}

func TestDispatcherRemoveDropsTrackerValues(t *testing.T) {
	t.Parallel()

	tracker := fleet.NewTracker(nil)
	d := New(tracker, nil)
	require.NoError(t, d.Add(newWorker(t, "w1", tracker)))
	require.NoError(t, d.Add(newWorker(t, "w2", tracker)))
	startFleet(t, d)

	require.Eventually(t, func() bool {
		snap := tracker.Snapshot()
		return len(snap.Workers) == 2 && snap.Workers[0].Counts[fleet.FlagVisited] > 0
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Remove(ctx, "w1"))

	_, ok := tracker.State("w1")
	require.False(t, ok)
	_, ok = d.Worker("w1")
	require.False(t, ok)
	require.Equal(t, []fleet.WorkerID{"w2"}, d.IDs())
	for _, ws := range tracker.Snapshot().Workers {
		require.NotEqual(t, fleet.WorkerID("w1"), ws.ID)
	}
	require.ErrorIs(t, d.Remove(ctx, "w1"), ErrUnknownWorker)
}

func TestDispatcherAddWhileRunningStartsWorker(t *testing.T) {
	t.Parallel()

	tracker := fleet.NewTracker(nil)
	d := New(tracker, nil)
	startFleet(t, d)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.group != nil
	}, time.Second, time.Millisecond)
	require.NoError(t, d.Add(newWorker(t, "late", tracker)))
	require.ErrorIs(t, d.Add(newWorker(t, "late", tracker)), ErrDuplicateWorker)
	require.Eventually(t, func() bool {
		return tracker.FlagTotal(fleet.FlagVisited) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherStopStopsEveryWorker(t *testing.T) {
	t.Parallel()

	tracker := fleet.NewTracker(nil)
	d := New(tracker, nil)
	require.NoError(t, d.Add(newWorker(t, "w1", tracker)))
	require.NoError(t, d.Add(newWorker(t, "w2", tracker)))
	startFleet(t, d)

	d.Stop()
	require.Equal(t, 2, tracker.StateCounts()[fleet.StateStopped])
}
