package progress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(KindStateChanged)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindStateChanged, KindFlagTotal, KindStateCounts} {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()

			sink := newStubSink()
			hub := NewHub(Config{
				BufferSize:     4,
				MaxBatchEvents: 10,
				MaxBatchWait:   25 * time.Millisecond,
			}, sink)
			defer func() {
				require.NoError(t, hub.Close(context.Background()))
			}()

			hub.Emit(sampleEvent(kind))
			require.Eventually(t, func() bool {
				return len(sink.Batches()) == 1
			}, time.Second, 5*time.Millisecond)
		})
	}
}

// TestHubMergesSupersededTotals keeps only the newest total per flag and the
// newest state counts, after the batch's transitions.
func TestHubMergesSupersededTotals(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	hub.OnFlagCountChanged(fleet.FlagVisited, 1)
	hub.OnStateCountsChanged(fleet.StateCounts{fleet.StateRunning: 1})
	hub.OnStateChanged("w1", fleet.StateRunning)
	hub.OnFlagCountChanged(fleet.FlagVisited, 2)
	hub.OnFlagCountChanged(fleet.FlagDead, 1)
	hub.OnStateCountsChanged(fleet.StateCounts{fleet.StateRunning: 2})
	hub.OnFlagCountChanged(fleet.FlagVisited, 3)
	hub.OnWorkerRemoved("w2")
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	got := batches[0]
	for i := range got {
		got[i].TS = time.Time{}
	}
	require.Equal(t, []Event{
		{Kind: KindStateChanged, WorkerID: "w1", State: fleet.StateRunning},
		{Kind: KindWorkerRemoved, WorkerID: "w2"},
		{Kind: KindFlagTotal, Flag: fleet.FlagVisited, Total: 3},
		{Kind: KindFlagTotal, Flag: fleet.FlagDead, Total: 1},
		{Kind: KindStateCounts, Counts: fleet.StateCounts{fleet.StateRunning: 2}},
	}, got)
	require.Equal(t, uint64(3), hub.Stats().Merged)
}

// TestHubKeepsTotalsWhenTransitionsDrop fills the buffer behind a stalled
// sink. Transitions are dropped and counted, Emit stays fast, and the
// newest total still arrives.
func TestHubKeepsTotalsWhenTransitionsDrop(t *testing.T) {
	t.Parallel()

	sink := &gatedSink{stubSink: newStubSink(), release: make(chan struct{})}
	hub := NewHub(Config{
		BufferSize:     1,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Minute,
	}, sink)

	start := time.Now()
	for i := 0; i < 10; i++ {
		hub.OnStateChanged("w1", fleet.StateRunning)
	}
	for i := 1; i <= 50; i++ {
		hub.OnFlagCountChanged(fleet.FlagVisited, i)
	}
	require.Less(t, time.Since(start), 500*time.Millisecond)

	close(sink.release)
	require.NoError(t, hub.Close(context.Background()))

	stats := hub.Stats()
	dropped := stats.Dropped[KindStateChanged]
	require.GreaterOrEqual(t, dropped, uint64(8))
	require.Zero(t, stats.Dropped[KindWorkerRemoved])

	changes, totals, last := 0, 0, 0
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			switch evt.Kind {
			case KindStateChanged:
				changes++
			case KindFlagTotal:
				totals++
				last = evt.Total
			}
		}
	}
	require.Equal(t, 10-int(dropped), changes)
	require.Equal(t, 50, last)
	require.Equal(t, uint64(50), uint64(totals)+stats.Merged)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(KindWorkerRemoved))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	hub.Emit(sampleEvent(KindWorkerRemoved))
	require.Len(t, sink.Batches(), 1, "events after close are ignored")
}

// TestHubDiscardsInvalidEvents keeps malformed events away from sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(Event{Kind: KindFlagTotal, TS: time.Now(), Flag: "BOGUS"})
	hub.Emit(Event{Kind: "OTHER", TS: time.Now()})
	hub.Emit(Event{Kind: KindStateChanged, WorkerID: "w1", State: fleet.StateRunning})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubPreservesTrackerOrder subscribes the hub to a tracker and checks
// one worker's transitions arrive in order and totals never go backwards.
func TestHubPreservesTrackerOrder(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	hub := NewHub(Config{
		BufferSize:     1024,
		MaxBatchEvents: 7,
		MaxBatchWait:   5 * time.Millisecond,
		Now:            func() time.Time { return fixed },
	}, sink)
	tr := fleet.NewTracker(nil)
	tr.Subscribe(hub)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fleet.WorkerID(fmt.Sprintf("w%d", w))
			for i := 1; i <= 50; i++ {
				tr.ReportFlagCount(id, fleet.FlagVisited, i)
				tr.ReportState(id, fleet.StateRunning)
			}
			tr.ReportState(id, fleet.StateStopped)
		}(w)
	}
	wg.Wait()
	require.NoError(t, hub.Close(context.Background()))

	var totals []int
	stopped := map[fleet.WorkerID]bool{}
	for _, batch := range sink.Batches() {
		for _, evt := range batch {
			require.Equal(t, fixed, evt.TS)
			switch evt.Kind {
			case KindFlagTotal:
				totals = append(totals, evt.Total)
			case KindStateChanged:
				require.False(t, stopped[evt.WorkerID], "state after STOPPED for %s", evt.WorkerID)
				if evt.State == fleet.StateStopped {
					stopped[evt.WorkerID] = true
				}
			}
		}
	}
	require.NotEmpty(t, totals)
	require.Equal(t, uint64(200), uint64(len(totals))+hub.Stats().Merged)
	for i := 1; i < len(totals); i++ {
		require.Greater(t, totals[i], totals[i-1], "totals only grow when every report grows")
	}
	require.Equal(t, 200, totals[len(totals)-1])
	require.Len(t, stopped, 4)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

// gatedSink holds every Consume until release is closed.
type gatedSink struct {
	*stubSink
	release chan struct{}
}

func (s *gatedSink) Consume(ctx context.Context, batch []Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.stubSink.Consume(ctx, batch)
}

func sampleEvent(kind Kind) Event {
	return Event{
		Kind:     kind,
		TS:       time.Now(),
		WorkerID: "w1",
		State:    fleet.StateRunning,
		Flag:     fleet.FlagVisited,
		Total:    1,
		Counts:   fleet.StateCounts{fleet.StateRunning: 1},
	}
}
