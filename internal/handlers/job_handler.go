package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// JobHandler handles job queue API requests
type JobHandler struct {
	queue     interfaces.QueueService
	broker    interfaces.ProgressBroker
	kernel    interfaces.AuthKernel
	streaming *common.StreamingConfig
	logger    arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queue interfaces.QueueService, broker interfaces.ProgressBroker, kernel interfaces.AuthKernel, streaming *common.StreamingConfig, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		queue:     queue,
		broker:    broker,
		kernel:    kernel,
		streaming: streaming,
		logger:    logger,
	}
}

// requireJob loads the job and checks the caller's permission for the given
// action against its attributes. System-job deletion is a distinct action so
// it can be restricted without touching regular deletes.
func (h *JobHandler) requireJob(w http.ResponseWriter, r *http.Request, action string) (*models.Job, *models.Identity, bool) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	job, err := h.queue.Get(ctx, r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}

	if action == auth.ActionDelete && job.IsSystemJob {
		action = auth.ActionDeleteSystem
	}
	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceJob, action, &models.TargetAttributes{
		ResourceID: job.JobID,
		OwnerID:    job.UserID,
		IsSystem:   job.IsSystemJob,
	})
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}
	if !allowed {
		WriteError(w, common.Ef(common.KindAuthorization, "not allowed to %s job %s", action, job.JobID))
		return nil, nil, false
	}
	return job, identity, true
}

// ListJobsHandler returns jobs matching the query filters
// GET /jobs?status=running&type=ingestion&limit=50&offset=0&system=false
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceJob, auth.ActionRead, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !allowed {
		WriteError(w, common.E(common.KindAuthorization, "not allowed to list jobs"))
		return
	}

	filter := models.JobFilter{
		Status:  models.JobStatus(r.URL.Query().Get("status")),
		JobType: models.JobType(r.URL.Query().Get("type")),
		Limit:   QueryInt(r, "limit", 50),
		Offset:  QueryInt(r, "offset", 0),
	}
	switch r.URL.Query().Get("system") {
	case "true":
		filter.SystemOnly = true
	case "false":
		filter.UserOnly = true
	}

	jobs, err := h.queue.List(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"count":  len(jobs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetJobHandler returns one job
// GET /jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	job, _, ok := h.requireJob(w, r, auth.ActionRead)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ApproveJobHandler approves a job held for cost approval
// POST /jobs/{id}/approve
func (h *JobHandler) ApproveJobHandler(w http.ResponseWriter, r *http.Request) {
	job, identity, ok := h.requireJob(w, r, auth.ActionApprove)
	if !ok {
		return
	}
	if err := h.queue.Approve(r.Context(), job.JobID, identity); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "approved", "job_id": job.JobID})
}

// CancelJobHandler requests cancellation of a job
// POST /jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	job, identity, ok := h.requireJob(w, r, auth.ActionCancel)
	if !ok {
		return
	}
	if err := h.queue.Cancel(r.Context(), job.JobID, identity); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": job.JobID})
}

// DeleteJobHandler deletes a terminal job record
// DELETE /jobs/{id}
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request) {
	job, identity, ok := h.requireJob(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := h.queue.Delete(r.Context(), job.JobID, identity); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "job_id": job.JobID})
}

// StreamJobHandler streams job progress as server-sent events. The stream
// replays the latest snapshot on subscribe and closes after the terminal
// event, a keepalive lapse past the idle timeout, or client disconnect.
// GET /jobs/{id}/stream
func (h *JobHandler) StreamJobHandler(w http.ResponseWriter, r *http.Request) {
	job, _, ok := h.requireJob(w, r, auth.ActionRead)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		WriteError(w, common.E(common.KindUnprocessable, "streaming not supported by this connection"))
		return
	}

	events, cancel := h.broker.Subscribe(job.JobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Jobs already terminal before any broker event was published still get
	// a terminal frame from the stored record.
	if job.Status.IsTerminal() {
		h.writeTerminalFromRecord(w, job)
		flusher.Flush()
		return
	}

	keepalive := time.NewTicker(h.streaming.KeepaliveInterval())
	defer keepalive.Stop()
	idle := time.NewTimer(h.streaming.IdleTimeout())
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-idle.C:
			return
		case <-keepalive.C:
			fmt.Fprintf(w, "event: keepalive\ndata: {\"timestamp\":%q}\n\n", time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			h.writeEvent(w, &event)
			flusher.Flush()
			if event.Name != "progress" {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(h.streaming.IdleTimeout())
		}
	}
}

// writeEvent frames one broker event as SSE.
func (h *JobHandler) writeEvent(w http.ResponseWriter, event *interfaces.BrokerEvent) {
	var body interface{}
	switch event.Name {
	case "progress":
		body = event.Progress
	case "completed":
		body = map[string]interface{}{"status": event.Status, "result": event.Result}
	default:
		body = map[string]interface{}{"status": event.Status, "error": event.Error}
	}
	data, err := json.Marshal(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to marshal SSE event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data)
}

// writeTerminalFromRecord synthesises the terminal SSE frame for a job that
// finished before this subscriber attached.
func (h *JobHandler) writeTerminalFromRecord(w http.ResponseWriter, job *models.Job) {
	event := interfaces.BrokerEvent{Name: "completed", Status: job.Status, Result: job.Result}
	if job.Status != models.JobStatusCompleted {
		event.Name = "failed"
		event.Error = job.Error
	}
	h.writeEvent(w, &event)
}
