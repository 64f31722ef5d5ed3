package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/cognatio/internal/models"
)

// QueueService is the job queue contract consumed by the HTTP surface, the
// scheduler and the workers.
type QueueService interface {
	Enqueue(ctx context.Context, spec *models.EnqueueSpec) (*models.EnqueueOutcome, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
	Approve(ctx context.Context, jobID string, approver *models.Identity) error
	Cancel(ctx context.Context, jobID string, canceller *models.Identity) error
	Delete(ctx context.Context, jobID string, requester *models.Identity) error

	// Worker-side operations; idempotent on repeat for restart safety
	UpdateProgress(ctx context.Context, jobID string, snapshot *models.JobProgress) error
	Complete(ctx context.Context, jobID string, result *models.JobResult) error
	Fail(ctx context.Context, jobID string, jobErr error) error
	Heartbeat(ctx context.Context, jobID string) error
	LinkArtifact(ctx context.Context, jobID, artifactID string) error

	// IsCancelled lets a worker observe a cancel transition at its next
	// safe boundary
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

// JobExecutor runs one job type. The dispatcher resolves executors by type
// from a registry and drives them on worker slots.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) (*models.JobResult, error)
	JobType() models.JobType
}

// Launcher is a named periodic producer of jobs. Tick inspects state and
// returns zero or more enqueue specs; launchers are idempotent and return
// nothing when the graph state has not moved.
type Launcher interface {
	Name() string
	Tick(ctx context.Context, now time.Time) ([]*models.EnqueueSpec, error)
}

// ProgressBroker fans progress snapshots out from the owning worker to SSE
// subscribers. Single writer per job, many readers.
type ProgressBroker interface {
	Publish(jobID string, snapshot *models.JobProgress)
	Terminal(jobID string, status models.JobStatus, result *models.JobResult, jobErr string)
	Subscribe(jobID string) (<-chan BrokerEvent, func())
	Latest(jobID string) *models.JobProgress
}

// BrokerEvent is one SSE-bound event from the progress broker.
type BrokerEvent struct {
	Name     string              // "progress", "completed", "failed", "error"
	Progress *models.JobProgress // Set for progress events
	Status   models.JobStatus    // Set for terminal events
	Result   *models.JobResult   // Set on completed
	Error    string              // Set on failed/error
}
