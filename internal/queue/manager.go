// -----------------------------------------------------------------------
// Job queue - durable state machine over the job table with dedup by
// (content_hash, ontology) and an approval policy
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// Manager implements the QueueService interface. Every state transition is
// persisted before workers observe it.
type Manager struct {
	storage  interfaces.JobStorage
	broker   interfaces.ProgressBroker
	queueCfg *common.QueueConfig
	approval *common.ApprovalConfig
	enqueue  sync.Mutex
	logger   arbor.ILogger
}

// NewManager creates a new queue manager
func NewManager(storage interfaces.JobStorage, broker interfaces.ProgressBroker, queueCfg *common.QueueConfig, approval *common.ApprovalConfig, logger arbor.ILogger) *Manager {
	return &Manager{
		storage:  storage,
		broker:   broker,
		queueCfg: queueCfg,
		approval: approval,
		logger:   logger,
	}
}

// Enqueue creates a job, consulting dedup and the approval policy. A
// non-terminal duplicate returns the existing job id; a completed duplicate
// returns the prior result unless force is set.
func (m *Manager) Enqueue(ctx context.Context, spec *models.EnqueueSpec) (*models.EnqueueOutcome, error) {
	if err := spec.Validate(); err != nil {
		return nil, common.Wrap(common.KindValidation, "invalid enqueue spec", err)
	}

	// The dedup lookup and the job insert must be one atomic step, or two
	// concurrent submissions of the same bytes both pass the check.
	m.enqueue.Lock()
	defer m.enqueue.Unlock()

	if spec.ContentHash != "" {
		if !common.IsContentHash(spec.ContentHash) {
			return nil, common.Ef(common.KindValidation, "malformed content hash: %s", spec.ContentHash)
		}

		active, err := m.storage.FindActiveByDedupKey(ctx, spec.ContentHash, spec.Ontology)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return &models.EnqueueOutcome{
				Duplicate:     true,
				ExistingJobID: active.JobID,
				Status:        active.Status,
				Message:       "a job for this document is already in flight",
			}, nil
		}

		if !spec.Force {
			completed, err := m.storage.FindCompletedByDedupKey(ctx, spec.ContentHash, spec.Ontology)
			if err != nil {
				return nil, err
			}
			if completed != nil {
				return &models.EnqueueOutcome{
					Duplicate:     true,
					ExistingJobID: completed.JobID,
					Status:        completed.Status,
					Result:        completed.Result,
					Message:       "document already ingested into this ontology",
					UseForce:      "resubmit with force=true to re-ingest",
				}, nil
			}
		}
	}

	now := time.Now().UTC()
	job := &models.Job{
		JobID:          common.NewJobID(),
		JobType:        spec.JobType,
		Status:         models.JobStatusPending,
		ContentHash:    spec.ContentHash,
		Ontology:       spec.Ontology,
		UserID:         spec.UserID,
		IsSystemJob:    spec.IsSystemJob,
		Source:         spec.Source,
		SourceMetadata: spec.SourceMetadata,
		ProcessingMode: spec.ProcessingMode,
		CreatedAt:      now,
		Analysis:       spec.Analysis,
		JobData:        spec.JobData,
	}

	if m.needsApproval(job) {
		expires := now.Add(time.Duration(m.queueCfg.ApprovalTimeoutHours) * time.Hour)
		job.Status = models.JobStatusAwaitingApproval
		job.ExpiresAt = &expires
	} else {
		// Auto-approval passes through approved instantly; the stored and
		// reported status is queued.
		job.Status = models.JobStatusQueued
	}

	if err := m.storage.StoreJob(ctx, job); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("job_id", job.JobID).
		Str("job_type", string(job.JobType)).
		Str("status", string(job.Status)).
		Str("ontology", job.Ontology).
		Msg("Job enqueued")

	return &models.EnqueueOutcome{JobID: job.JobID, Status: job.Status}, nil
}

// needsApproval applies the approval policy: system and scheduled jobs
// bypass; user jobs are auto-approved when the pre-execution analysis falls
// below both thresholds.
func (m *Manager) needsApproval(job *models.Job) bool {
	if job.IsSystemJob || job.Source == models.JobSourceScheduledTask || job.Source == models.JobSourceSystem {
		return false
	}
	if job.Analysis == nil {
		return false
	}
	if job.Analysis.EstimatedCostCents >= m.approval.AutoApproveUnderCostCents {
		return true
	}
	if job.Analysis.Chunks >= m.approval.AutoApproveUnderChunks {
		return true
	}
	return false
}

// Get returns the job snapshot.
func (m *Manager) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return m.storage.GetJob(ctx, jobID)
}

// List returns jobs matching the filter.
func (m *Manager) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	return m.storage.ListJobs(ctx, filter)
}

// transition validates and persists a state machine edge.
func (m *Manager) transition(ctx context.Context, job *models.Job, to models.JobStatus) error {
	if !models.CanTransition(job.Status, to) {
		return common.Ef(common.KindConflict, "cannot transition job %s from %s to %s", job.JobID, job.Status, to)
	}
	job.Status = to
	return m.storage.UpdateJob(ctx, job)
}

// Approve moves an awaiting_approval (or pending) job to approved.
func (m *Manager) Approve(ctx context.Context, jobID string, approver *models.Identity) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusAwaitingApproval && job.Status != models.JobStatusPending {
		return common.Ef(common.KindConflict, "job %s is %s, not awaiting approval", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.ApprovedAt = &now
	job.ApprovedBy = approver.Username
	job.ExpiresAt = nil
	if err := m.transition(ctx, job, models.JobStatusApproved); err != nil {
		return err
	}

	m.logger.Info().Str("job_id", jobID).Str("approved_by", approver.Username).Msg("Job approved")
	return nil
}

// Cancel moves a non-terminal job to cancelled. Running workers observe the
// transition at their next snapshot point and stop at a chunk boundary.
func (m *Manager) Cancel(ctx context.Context, jobID string, canceller *models.Identity) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return common.Ef(common.KindConflict, "job %s is already %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := m.transition(ctx, job, models.JobStatusCancelled); err != nil {
		return err
	}

	m.broker.Terminal(jobID, models.JobStatusCancelled, nil, "cancelled")
	m.logger.Info().Str("job_id", jobID).Int64("cancelled_by", canceller.UserID).Msg("Job cancelled")
	return nil
}

// Delete removes a job row. Owners may delete their own terminal jobs;
// platform administrators may delete system jobs. The caller has already
// passed the authorisation kernel; this enforces the terminal-state rule.
func (m *Manager) Delete(ctx context.Context, jobID string, requester *models.Identity) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return common.Ef(common.KindConflict, "job %s is %s; only terminal jobs can be deleted", jobID, job.Status)
	}
	if err := m.storage.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	if forgetter, ok := m.broker.(interface{ Forget(string) }); ok {
		forgetter.Forget(jobID)
	}
	return nil
}

// UpdateProgress persists the worker's snapshot and fans it out. Idempotent:
// re-publishing an already-recorded snapshot is harmless, and updates to a
// terminal job are ignored for restart safety.
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, snapshot *models.JobProgress) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	job.Progress = snapshot
	if err := m.storage.UpdateJob(ctx, job); err != nil {
		return err
	}
	m.broker.Publish(jobID, snapshot)
	return nil
}

// Complete marks the job completed. Idempotent on repeat.
func (m *Manager) Complete(ctx context.Context, jobID string, result *models.JobResult) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusCompleted {
		return nil
	}
	if job.Status.IsTerminal() {
		return common.Ef(common.KindConflict, "job %s is already %s", jobID, job.Status)
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Result = result
	if err := m.transition(ctx, job, models.JobStatusCompleted); err != nil {
		return err
	}

	m.broker.Terminal(jobID, models.JobStatusCompleted, result, "")
	m.logger.Info().Str("job_id", jobID).Str("job_type", string(job.JobType)).Msg("Job completed")
	return nil
}

// Fail marks the job failed with a serialised error. Idempotent on repeat.
func (m *Manager) Fail(ctx context.Context, jobID string, jobErr error) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusFailed {
		return nil
	}
	if job.Status.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Error = jobErr.Error()
	if err := m.transition(ctx, job, models.JobStatusFailed); err != nil {
		return err
	}

	m.broker.Terminal(jobID, models.JobStatusFailed, nil, job.Error)
	m.logger.Warn().Str("job_id", jobID).Err(jobErr).Msg("Job failed")
	return nil
}

// LinkArtifact records the artifact a worker produced for this job.
func (m *Manager) LinkArtifact(ctx context.Context, jobID, artifactID string) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ArtifactID = artifactID
	return m.storage.UpdateJob(ctx, job)
}

// Heartbeat records worker liveness for restart recovery.
func (m *Manager) Heartbeat(ctx context.Context, jobID string) error {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusRunning {
		return nil
	}
	now := time.Now().UTC()
	job.Heartbeat = &now
	return m.storage.UpdateJob(ctx, job)
}

// IsCancelled lets a worker poll for a cancel transition at its next safe
// boundary.
func (m *Manager) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.Status == models.JobStatusCancelled, nil
}

// markRunning is called by the dispatcher when a worker slot picks the job.
// Recovered jobs arrive already queued; fresh ones pass through queued first.
func (m *Manager) markRunning(ctx context.Context, job *models.Job) error {
	if job.Status == models.JobStatusApproved {
		if err := m.transition(ctx, job, models.JobStatusQueued); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	job.StartedAt = &now
	job.Heartbeat = &now
	return m.transition(ctx, job, models.JobStatusRunning)
}

// RecoverLapsed resets running jobs whose heartbeat lapsed back to queued;
// called at startup. The pipeline is idempotent so re-execution is safe.
func (m *Manager) RecoverLapsed(ctx context.Context) (int, error) {
	running, err := m.storage.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, err
	}

	timeout := time.Duration(m.queueCfg.HeartbeatTimeoutMinutes) * time.Minute
	now := time.Now().UTC()
	recovered := 0
	for _, job := range running {
		if job.Heartbeat != nil && now.Sub(*job.Heartbeat) < timeout {
			continue
		}
		if err := m.transition(ctx, job, models.JobStatusQueued); err != nil {
			m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to recover lapsed job")
			continue
		}
		recovered++
		m.logger.Info().Str("job_id", job.JobID).Msg("Lapsed running job reset to queued")
	}
	return recovered, nil
}

// Compile-time interface check
var _ interfaces.QueueService = (*Manager)(nil)
