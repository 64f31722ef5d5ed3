package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/models"
)

// SystemHandler handles version, health and status requests
type SystemHandler struct {
	graph  interfaces.GraphStore
	jobs   interfaces.JobStorage
	epoch  *metrics.EpochService
	logger arbor.ILogger
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(graph interfaces.GraphStore, jobs interfaces.JobStorage, epoch *metrics.EpochService, logger arbor.ILogger) *SystemHandler {
	return &SystemHandler{
		graph:  graph,
		jobs:   jobs,
		epoch:  epoch,
		logger: logger,
	}
}

// VersionHandler returns the build version
// GET /version
func (h *SystemHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.Version,
		"build":   common.Build,
	})
}

// HealthHandler reports liveness; the graph census doubles as a storage
// reachability probe
// GET /health
func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := h.graph.Counts(r.Context()); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  "storage unreachable",
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// StatusHandler returns the graph census, queue depth and current epoch
// GET /status
func (h *SystemHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.graph.Counts(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}
	epoch, err := h.epoch.Current(ctx)
	if err != nil {
		WriteError(w, err)
		return
	}

	queueDepth := make(map[string]int)
	for _, status := range []models.JobStatus{
		models.JobStatusPending, models.JobStatusAwaitingApproval,
		models.JobStatusApproved, models.JobStatusQueued,
		models.JobStatusRunning, models.JobStatusCompleted,
		models.JobStatusFailed, models.JobStatusCancelled,
	} {
		count, err := h.jobs.CountJobs(ctx, status)
		if err != nil {
			h.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to count jobs")
			continue
		}
		queueDepth[string(status)] = count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version":     common.Version,
		"graph":       counts,
		"graph_epoch": epoch,
		"queue":       queueDepth,
	})
}

// NotFoundHandler is the fallback for unmatched API routes
func (h *SystemHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, common.Ef(common.KindNotFound, "no such endpoint: %s", r.URL.Path))
}
