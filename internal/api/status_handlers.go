package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	statusTimeout       = 3 * time.Second
)

// StatusHandler exposes read-only status history endpoints.
type StatusHandler struct {
	repo    store.StatusRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewStatusHandler wires the repository and logger. repo may be nil, in
// which case every endpoint answers 503.
func NewStatusHandler(repo store.StatusRepository, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{
		repo:    repo,
		timeout: statusTimeout,
		logger:  logger,
	}
}

// ListStateChanges handles GET /v1/workers/{worker_id}/history?limit=&state=.
// It returns {"worker_id": ..., "changes": [...]} newest first, optionally
// only the changes into one state. It answers 400 for an invalid limit or
// state, 503 when history is not persisted, or 500 on store errors.
func (h *StatusHandler) ListStateChanges(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "status history unavailable")
		return
	}
	workerID := chi.URLParam(r, "worker_id")
	if workerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state fleet.State
	if raw := r.URL.Query().Get("state"); raw != "" {
		if state, err = fleet.ParseState(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	fetch := limit
	if state != "" {
		fetch = 0
	}
	changes, err := h.repo.ListStateChanges(ctx, workerID, fetch)
	if err != nil {
		h.logger.Error("list state changes failed", zap.String("worker_id", workerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list state changes")
		return
	}
	if state != "" {
		kept := make([]store.StateChange, 0, len(changes))
		for _, c := range changes {
			if c.State == string(state) {
				kept = append(kept, c)
			}
		}
		changes = kept
		if len(changes) > limit {
			changes = changes[:limit]
		}
	}
	if changes == nil {
		changes = []store.StateChange{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"worker_id": workerID,
		"changes":   changes,
	})
}

// ListFlagTotals handles GET /v1/flags?flag= and returns the persisted
// fleet-wide totals as {"flags": [...]}, optionally only one flag.
func (h *StatusHandler) ListFlagTotals(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "status history unavailable")
		return
	}
	var flag fleet.Flag
	if raw := r.URL.Query().Get("flag"); raw != "" {
		var err error
		if flag, err = fleet.ParseFlag(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	totals, err := h.repo.ListFlagTotals(ctx)
	if err != nil {
		h.logger.Error("list flag totals failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list flag totals")
		return
	}
	if flag != "" {
		kept := make([]store.FlagTotal, 0, len(totals))
		for _, t := range totals {
			if t.Flag == string(flag) {
				kept = append(kept, t)
			}
		}
		totals = kept
	}
	if totals == nil {
		totals = []store.FlagTotal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": totals})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
