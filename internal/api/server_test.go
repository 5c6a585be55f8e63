package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/config"
	"github.com/JakeFAU/jobhearted-crawler/internal/dispatcher"
	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/storage/memory"
	"github.com/JakeFAU/jobhearted-crawler/internal/store"
)

func TestServer_GetFleetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	tracker := fleet.NewTracker(nil)
	tracker.ReportState("w1", fleet.StateRunning)
	tracker.ReportFlagCount("w1", fleet.FlagVisited, 7)
	server := newTestServer(&fakeFleet{}, tracker, nil)

	rec := serve(server, http.MethodGet, "/v1/fleet", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap fleet.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 1, snap.States[fleet.StateRunning])
	require.Equal(t, 7, snap.Flags[fleet.FlagVisited])
	require.Len(t, snap.Workers, 1)
	require.Equal(t, fleet.WorkerID("w1"), snap.Workers[0].ID)
}

func TestServer_GetFleetBeforeAnyReport(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFleet{}, fleet.NewTracker(nil), nil)
	rec := serve(server, http.MethodGet, "/v1/fleet", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap fleet.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Empty(t, snap.Workers)
	for _, f := range fleet.Flags() {
		require.Zero(t, snap.Flags[f])
	}
}

func TestServer_FleetPauseResume(t *testing.T) {
	t.Parallel()

	ctl := &fakeFleet{}
	server := newTestServer(ctl, fleet.NewTracker(nil), nil)

	require.Equal(t, http.StatusAccepted, serve(server, http.MethodPost, "/v1/fleet/pause", nil).Code)
	require.Equal(t, http.StatusAccepted, serve(server, http.MethodPost, "/v1/fleet/resume", nil).Code)
	require.Equal(t, []string{"pause-all", "resume-all"}, ctl.log())
}

func TestServer_WorkerActions(t *testing.T) {
	t.Parallel()

	ctl := &fakeFleet{}
	server := newTestServer(ctl, fleet.NewTracker(nil), nil)

	require.Equal(t, http.StatusAccepted, serve(server, http.MethodPost, "/v1/workers/w1/pause", nil).Code)
	require.Equal(t, http.StatusAccepted, serve(server, http.MethodPost, "/v1/workers/w1/resume", nil).Code)
	require.Equal(t, http.StatusAccepted, serve(server, http.MethodPost, "/v1/workers/w1/stop", nil).Code)
	require.Equal(t, http.StatusAccepted, serve(server, http.MethodDelete, "/v1/workers/w1", nil).Code)
	require.Equal(t, []string{"pause w1", "resume w1", "stop w1", "remove w1"}, ctl.log())
}

func TestServer_WorkerActionErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown worker", fmt.Errorf("%w: w9", dispatcher.ErrUnknownWorker), http.StatusNotFound},
		{"stopped worker", fleet.ErrStopped, http.StatusConflict},
		{"invalid transition", fleet.ErrInvalidTransition, http.StatusConflict},
		{"deadline", context.DeadlineExceeded, http.StatusRequestTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(&fakeFleet{err: tt.err}, fleet.NewTracker(nil), nil)
			rec := serve(server, http.MethodPost, "/v1/workers/w9/pause", nil)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_ReadinessChecks(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	ready := NewServer(Dependencies{
		Fleet:  &fakeFleet{},
		Checks: []ReadinessCheck{{Name: "store", Check: func(context.Context) error { return nil }}},
	}, cfg, zap.NewNop())
	require.Equal(t, http.StatusOK, serve(ready, http.MethodGet, "/readyz", nil).Code)

	notReady := NewServer(Dependencies{
		Fleet:  &fakeFleet{},
		Checks: []ReadinessCheck{{Name: "store", Check: func(context.Context) error { return errors.New("down") }}},
	}, cfg, zap.NewNop())
	rec := serve(notReady, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "down")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFleet{}, fleet.NewTracker(nil), nil), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_WorkerHistory(t *testing.T) {
	t.Parallel()

	repo := memory.NewStatusStore()
	server := newTestServer(&fakeFleet{}, fleet.NewTracker(nil), repo)

	rec := serve(server, http.MethodGet, "/v1/workers/w1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"worker_id":"w1","changes":[]}`, rec.Body.String())

	rec = serve(server, http.MethodGet, "/v1/workers/w1/history?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StatusFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewStatusStore()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, st := range []fleet.State{fleet.StateRunning, fleet.StatePausing, fleet.StatePaused, fleet.StateRunning, fleet.StatePausing, fleet.StatePaused} {
		require.NoError(t, repo.RecordStateChange(ctx, store.StateChange{WorkerID: "w1", State: string(st), At: at.Add(time.Duration(i) * time.Second)}))
	}
	require.NoError(t, repo.UpsertFlagTotals(ctx, map[string]int64{"DEAD": 2, "VISITED": 9}, at))
	server := newTestServer(&fakeFleet{}, fleet.NewTracker(nil), repo)

	rec := serve(server, http.MethodGet, "/v1/workers/w1/history?state=paused&limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Changes []store.StateChange `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Changes, 1)
	require.Equal(t, "PAUSED", history.Changes[0].State)
	require.Equal(t, at.Add(5*time.Second), history.Changes[0].At)

	rec = serve(server, http.MethodGet, "/v1/flags?flag=dead", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var flags struct {
		Flags []store.FlagTotal `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
	require.Len(t, flags.Flags, 1)
	require.Equal(t, int64(2), flags.Flags[0].Total)

	require.Equal(t, http.StatusBadRequest, serve(server, http.MethodGet, "/v1/workers/w1/history?state=asleep", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(server, http.MethodGet, "/v1/flags?flag=lost", nil).Code)
}

func TestServer_HistoryUnavailableWithoutRepo(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFleet{}, fleet.NewTracker(nil), nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/v1/workers/w1/history", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(server, http.MethodGet, "/v1/flags", nil).Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := NewServer(Dependencies{Fleet: &fakeFleet{}, Tracker: fleet.NewTracker(nil)}, cfg, zap.NewNop())

	require.Equal(t, http.StatusForbidden, serve(server, http.MethodGet, "/v1/fleet", nil).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/v1/fleet", map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/v1/fleet?api_key=secret", nil).Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeFleet{}, fleet.NewTracker(nil), nil)
	rec := serve(server, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(server, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "abc"})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type fakeFleet struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeFleet) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeFleet) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFleet) PauseAll() error { return f.record("pause-all") }
func (f *fakeFleet) ResumeAll() error { return f.record("resume-all") }
func (f *fakeFleet) Pause(id fleet.WorkerID) error { return f.record("pause " + string(id)) }
func (f *fakeFleet) Resume(id fleet.WorkerID) error { return f.record("resume " + string(id)) }
func (f *fakeFleet) StopWorker(id fleet.WorkerID) error { return f.record("stop " + string(id)) }
func (f *fakeFleet) Remove(_ context.Context, id fleet.WorkerID) error {
	return f.record("remove " + string(id))
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(ctl FleetController, tracker SnapshotSource, repo *memory.StatusStore) *Server {
	deps := Dependencies{Fleet: ctl, Tracker: tracker}
	if repo != nil {
		deps.Status = repo
	}
	return NewServer(deps, config.Config{}, zap.NewNop())
}

func serve(s *Server, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}
