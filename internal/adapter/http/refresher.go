package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/scheduler"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// RunController is the scheduler surface used by the refresher routes.
type RunController interface {
	Start(trigger domain.Trigger) (string, error)
	Snapshot() scheduler.Snapshot
	LastOutcome() (domain.RunOutcome, bool)
	Recent(ctx context.Context, limit int) ([]domain.RunOutcome, error)
}

// RunHistory is a durable run log.
type RunHistory interface {
	Recent(ctx context.Context, limit int) ([]domain.RunOutcome, error)
	Get(ctx context.Context, runID string) (domain.RunOutcome, error)
}

// RunCounter is implemented by run logs that can tally outcomes by status.
type RunCounter interface {
	CountByStatus(ctx context.Context) (map[domain.RunStatus]int, error)
}

type stateResponse struct {
	scheduler.Snapshot
	RunsByStatus map[domain.RunStatus]int `json:"runs_by_status,omitempty"`
}

// RefresherHandler serves run trigger and run history routes.
type RefresherHandler struct {
	runs    RunController
	history RunHistory
	logger  *slog.Logger
}

// NewRefresherHandler creates the handler. history may be nil, in which case
// only runs held in memory are served.
func NewRefresherHandler(runs RunController, history RunHistory, logger *slog.Logger) *RefresherHandler {
	return &RefresherHandler{runs: runs, history: history, logger: logger}
}

// RegisterRoutes mounts the refresher routes.
func (h *RefresherHandler) RegisterRoutes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleTrigger)
		r.Get("/latest", h.handleLatest)
		r.Get("/{id}", h.handleGet)
	})
}

func (h *RefresherHandler) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{Snapshot: h.runs.Snapshot()}
	if counter, ok := h.history.(RunCounter); ok {
		counts, err := counter.CountByStatus(r.Context())
		if err != nil {
			h.logger.Warn("count runs", "error", err)
		}
		resp.RunsByStatus = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RefresherHandler) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	id, err := h.runs.Start(domain.TriggerOnDemand)
	if errors.Is(err, domain.ErrConcurrentRunRejected) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"kind":  string(domain.KindConcurrentRunRejected),
		})
		return
	}
	if err != nil {
		h.logger.Error("start run", "error", err)
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}
	w.Header().Set("Location", "/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id})
}

func (h *RefresherHandler) handleLatest(w http.ResponseWriter, _ *http.Request) {
	last, ok := h.runs.LastOutcome()
	if !ok {
		writeError(w, http.StatusNotFound, "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (h *RefresherHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	var (
		runs []domain.RunOutcome
		err  error
	)
	if h.history != nil {
		runs, err = h.history.Recent(r.Context(), limit)
	} else {
		runs, err = h.runs.Recent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []domain.RunOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *RefresherHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.history != nil {
		o, err := h.history.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, o)
			return
		}
		h.logger.Debug("run log lookup", "run_id", id, "error", err)
	}
	recent, _ := h.runs.Recent(r.Context(), 0)
	for _, o := range recent {
		if o.RunID == id {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found")
}
