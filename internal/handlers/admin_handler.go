package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/backup"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/scheduler"
	"github.com/ternarybob/cognatio/internal/storage/blob"
)

// AdminHandler handles backup, restore and scheduled-job administration
type AdminHandler struct {
	backups        *backup.Service
	queue          interfaces.QueueService
	blobs          interfaces.BlobStore
	scheduled      interfaces.ScheduledJobStorage
	kernel         interfaces.AuthKernel
	maxUploadBytes int64
	logger         arbor.ILogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(backups *backup.Service, queue interfaces.QueueService, blobs interfaces.BlobStore, scheduled interfaces.ScheduledJobStorage, kernel interfaces.AuthKernel, maxUploadBytes int64, logger arbor.ILogger) *AdminHandler {
	return &AdminHandler{
		backups:        backups,
		queue:          queue,
		blobs:          blobs,
		scheduled:      scheduled,
		kernel:         kernel,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// requirePermission checks a global permission for the caller.
func (h *AdminHandler) requirePermission(w http.ResponseWriter, r *http.Request, resource, action string) (*models.Identity, bool) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, resource, action, nil)
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	if !allowed {
		WriteError(w, common.Ef(common.KindAuthorization, "not allowed to %s %s", action, resource))
		return nil, false
	}
	return identity, true
}

// BackupDownloadHandler streams a backup file to the client. The export is
// written directly to the response; no temp file is created.
// GET /admin/backup?ontology=physics
func (h *AdminHandler) BackupDownloadHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, auth.ResourceBackup, auth.ActionCreate); !ok {
		return
	}

	ontology := r.URL.Query().Get("ontology")
	filename := fmt.Sprintf("cognatio-backup-%s.json", time.Now().UTC().Format("20060102-150405"))
	if ontology != "" {
		filename = fmt.Sprintf("cognatio-backup-%s-%s.json", ontology, time.Now().UTC().Format("20060102-150405"))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	if err := h.backups.WriteTo(r.Context(), w, ontology); err != nil {
		// Headers are gone; all we can do is log and cut the stream
		h.logger.Error().Err(err).Str("ontology", ontology).Msg("Backup export failed mid-stream")
	}
}

// BackupJobHandler enqueues a backup job that persists the export as an
// artifact instead of streaming it
// POST /admin/backup
func (h *AdminHandler) BackupJobHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requirePermission(w, r, auth.ResourceBackup, auth.ActionCreate)
	if !ok {
		return
	}

	outcome, err := h.queue.Enqueue(r.Context(), &models.EnqueueSpec{
		JobType:        models.JobTypeBackup,
		Ontology:       r.URL.Query().Get("ontology"),
		UserID:         identity.UserID,
		Source:         models.JobSourceUserAPI,
		ProcessingMode: models.ProcessingModeSerial,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, outcome)
}

// RestoreUploadHandler stages an uploaded backup file into the temp blob
// area and enqueues a restore job. The restore itself runs under the
// checkpoint guard on a worker slot.
// POST /admin/restore (multipart: file, plus form options)
func (h *AdminHandler) RestoreUploadHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requirePermission(w, r, auth.ResourceBackup, auth.ActionExecute)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "malformed multipart upload", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "missing file field", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "failed to read upload", err))
		return
	}

	ctx := r.Context()
	tempKey := blob.TempPrefix + common.NewJobID() + ".json"
	if err := h.blobs.Put(ctx, tempKey, data); err != nil {
		WriteError(w, err)
		return
	}

	partial, _ := strconv.ParseBool(r.FormValue("partial"))
	preserve, _ := strconv.ParseBool(r.FormValue("preserve_on_failure"))
	skipIntegrity, _ := strconv.ParseBool(r.FormValue("skip_integrity_check"))

	jobData, err := json.Marshal(models.RestoreJobData{
		TempBlobKey:        tempKey,
		Partial:            partial,
		PreserveOnFailure:  preserve,
		RequestedByUserID:  identity.UserID,
		SourceFilename:     header.Filename,
		OverwriteOntology:  r.FormValue("overwrite_ontology"),
		SkipIntegrityCheck: skipIntegrity,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	outcome, err := h.queue.Enqueue(ctx, &models.EnqueueSpec{
		JobType:        models.JobTypeRestore,
		JobData:        jobData,
		UserID:         identity.UserID,
		Source:         models.JobSourceUserAPI,
		SourceMetadata: models.SourceMetadata{Filename: header.Filename, SourceType: "api"},
		ProcessingMode: models.ProcessingModeSerial,
	})
	if err != nil {
		// The temp blob would otherwise leak until the daily sweep
		if delErr := h.blobs.Delete(ctx, tempKey); delErr != nil {
			h.logger.Warn().Err(delErr).Str("key", tempKey).Msg("Failed to clean staged restore file")
		}
		WriteError(w, err)
		return
	}

	h.logger.Info().
		Str("filename", header.Filename).
		Str("job_id", outcome.JobID).
		Msg("Restore staged and enqueued")
	WriteJSON(w, http.StatusAccepted, outcome)
}

// ListScheduledJobsHandler returns the dispatcher table
// GET /admin/scheduled
func (h *AdminHandler) ListScheduledJobsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, auth.ResourceScheduledJob, auth.ActionRead); !ok {
		return
	}
	rows, err := h.scheduled.ListScheduledJobs(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"scheduled_jobs": rows,
		"count":          len(rows),
	})
}

type scheduledJobUpdate struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	ScheduleCron *string `json:"schedule_cron,omitempty"`
	MaxRetries   *int    `json:"max_retries,omitempty"`
}

// UpdateScheduledJobHandler changes a dispatcher row's schedule or enabled
// flag. Re-enabling a row resets its retry counter; changing the cron clears
// next_run so the dispatcher reseeds it.
// PATCH /admin/scheduled/{name}
func (h *AdminHandler) UpdateScheduledJobHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requirePermission(w, r, auth.ResourceScheduledJob, auth.ActionUpdate); !ok {
		return
	}

	ctx := r.Context()
	row, err := h.scheduled.GetScheduledJob(ctx, r.PathValue("name"))
	if err != nil {
		WriteError(w, err)
		return
	}

	var update scheduledJobUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		WriteError(w, common.Wrap(common.KindValidation, "malformed request body", err))
		return
	}

	if update.ScheduleCron != nil {
		if err := scheduler.ValidateCron(*update.ScheduleCron); err != nil {
			WriteError(w, err)
			return
		}
		row.ScheduleCron = *update.ScheduleCron
		row.NextRun = nil
	}
	if update.Enabled != nil {
		if *update.Enabled && !row.Enabled {
			row.RetryCount = 0
			row.LastError = ""
		}
		row.Enabled = *update.Enabled
	}
	if update.MaxRetries != nil {
		row.MaxRetries = *update.MaxRetries
	}

	if err := h.scheduled.UpdateScheduledJob(ctx, row); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, row)
}
