// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/config"
	"github.com/JakeFAU/jobhearted-crawler/internal/dispatcher"
	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/metrics"
	"github.com/JakeFAU/jobhearted-crawler/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	readyTimeout   = 2 * time.Second
)

// FleetController is the set of fleet operations the API drives.
type FleetController interface {
	PauseAll() error
	ResumeAll() error
	Pause(id fleet.WorkerID) error
	Resume(id fleet.WorkerID) error
	StopWorker(id fleet.WorkerID) error
	Remove(ctx context.Context, id fleet.WorkerID) error
}

// SnapshotSource provides the aggregated fleet view.
type SnapshotSource interface {
	Snapshot() fleet.Snapshot
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies groups the collaborators served by the API. Status, Checks
// and Stream are optional.
type Dependencies struct {
	Fleet   FleetController
	Tracker SnapshotSource
	Status  store.StatusRepository
	Checks  []ReadinessCheck
	// Stream serves GET /v1/fleet/stream when set.
	Stream http.Handler
}

// Server wires HTTP handlers to the dispatcher and tracker.
type Server struct {
	router  chi.Router
	fleet   FleetController
	tracker SnapshotSource
	checks  []ReadinessCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		fleet:   deps.Fleet,
		tracker: deps.Tracker,
		checks:  deps.Checks,
		logger:  logger.Named("api"),
	}
	status := NewStatusHandler(deps.Status, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	// Long-lived connections bypass the request timeout.
	if deps.Stream != nil {
		r.Method(http.MethodGet, "/v1/fleet/stream", deps.Stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Route("/v1", func(r chi.Router) {
			r.Route("/fleet", func(r chi.Router) {
				r.Get("/", s.getFleet)
				r.Post("/pause", s.pauseFleet)
				r.Post("/resume", s.resumeFleet)
			})
			r.Get("/flags", status.ListFlagTotals)
			r.Route("/workers/{worker_id}", func(r chi.Router) {
				r.Post("/pause", s.pauseWorker)
				r.Post("/resume", s.resumeWorker)
				r.Post("/stop", s.stopWorker)
				r.Delete("/", s.removeWorker)
				r.Get("/history", status.ListStateChanges)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	failed := make(map[string]string)
	for _, c := range s.checks {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", c.Name), zap.Error(err))
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getFleet(w http.ResponseWriter, _ *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) pauseFleet(w http.ResponseWriter, _ *http.Request) {
	s.fleetAction(w, "pause", s.fleet.PauseAll)
}

func (s *Server) resumeFleet(w http.ResponseWriter, _ *http.Request) {
	s.fleetAction(w, "resume", s.fleet.ResumeAll)
}

func (s *Server) fleetAction(w http.ResponseWriter, action string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Error("fleet action failed", zap.String("action", action), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"action": action, "scope": "fleet"})
}

func (s *Server) pauseWorker(w http.ResponseWriter, r *http.Request) {
	s.workerAction(w, r, "pause", s.fleet.Pause)
}

func (s *Server) resumeWorker(w http.ResponseWriter, r *http.Request) {
	s.workerAction(w, r, "resume", s.fleet.Resume)
}

func (s *Server) stopWorker(w http.ResponseWriter, r *http.Request) {
	s.workerAction(w, r, "stop", s.fleet.StopWorker)
}

func (s *Server) removeWorker(w http.ResponseWriter, r *http.Request) {
	s.workerAction(w, r, "remove", func(id fleet.WorkerID) error {
		return s.fleet.Remove(r.Context(), id)
	})
}

func (s *Server) workerAction(w http.ResponseWriter, r *http.Request, action string, fn func(fleet.WorkerID) error) {
	id := fleet.WorkerID(chi.URLParam(r, "worker_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	if err := fn(id); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("worker action failed",
				zap.String("action", action),
				zap.String("worker_id", string(id)),
				zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"action": action, "worker_id": string(id)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatcher.ErrUnknownWorker):
		return http.StatusNotFound
	case errors.Is(err, fleet.ErrInvalidTransition), errors.Is(err, fleet.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stored by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health checks are served without a key.
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
