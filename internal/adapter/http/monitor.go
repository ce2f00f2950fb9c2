package http

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/monitor"
)

// HealthView is the Health Monitor surface used by the monitor routes.
type HealthView interface {
	Poll(ctx context.Context) domain.HealthSample
	Verdict() domain.Verdict
	History() []domain.HealthSample
	Latest() (domain.HealthSample, bool)
	Checks() int
	Uptime() time.Duration
	Target() string
	Summary() monitor.Summary
	ExportHistory(dir string) (string, error)
}

// MonitorHandler serves the read-only Health Monitor API.
type MonitorHandler struct {
	mon       HealthView
	exportDir string
	now       func() time.Time
	logger    *slog.Logger
}

// NewMonitorHandler creates the handler.
func NewMonitorHandler(mon HealthView, exportDir string, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{mon: mon, exportDir: exportDir, now: time.Now, logger: logger}
}

// RegisterRoutes mounts the monitor routes.
func (h *MonitorHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/verdict", h.handleVerdict)
	r.Get("/summary", h.handleSummary)
	r.Get("/status", h.handleStatus)
	r.Get("/history", h.handleHistory)
	r.Post("/history/export", h.handleExport)
}

func (h *MonitorHandler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "flood-health-monitor",
		"status":    "running",
		"uptime_s":  h.mon.Uptime().Seconds(),
		"target":    h.mon.Target(),
		"timestamp": h.now().UTC(),
	})
}

func (h *MonitorHandler) handleVerdict(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"verdict": h.mon.Verdict()}
	if latest, ok := h.mon.Latest(); ok {
		body["reason"] = latest.Reason
		body["checked_at"] = latest.Timestamp
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *MonitorHandler) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.Summary())
}

func (h *MonitorHandler) handleHistory(w http.ResponseWriter, _ *http.Request) {
	history := h.mon.History()
	writeJSON(w, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}

// handleStatus polls once on demand when nothing has been recorded yet.
func (h *MonitorHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	latest, ok := h.mon.Latest()
	if !ok {
		latest = h.mon.Poll(r.Context())
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"latest":  latest,
		"summary": h.mon.Summary(),
		"system_info": map[string]any{
			"hostname":         hostname,
			"target":           h.mon.Target(),
			"checks_performed": h.mon.Checks(),
			"monitor_uptime_s": h.mon.Uptime().Seconds(),
		},
	})
}

func (h *MonitorHandler) handleExport(w http.ResponseWriter, _ *http.Request) {
	path, err := h.mon.ExportHistory(h.exportDir)
	if err != nil {
		h.logger.Error("export history", "error", err)
		writeError(w, http.StatusInternalServerError, "could not export history")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}
