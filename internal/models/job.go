// -----------------------------------------------------------------------
// Job - durable job record with approval/execution state machine
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobType identifies the worker that executes a job.
type JobType string

const (
	JobTypeIngestion             JobType = "ingestion"
	JobTypeRestore               JobType = "restore"
	JobTypeBackup                JobType = "backup"
	JobTypeProjectionRefresh     JobType = "projection_refresh"
	JobTypeEmbeddingRegeneration JobType = "embedding_regeneration"
	JobTypeVocabConsolidation    JobType = "vocab_consolidation"
	JobTypeArtifactCleanup       JobType = "artifact_cleanup"
	JobTypeEpistemicRemeasure    JobType = "epistemic_remeasurement"
	JobTypeOntologyAnnealing     JobType = "ontology_annealing"
	JobTypeCategoryRefresh       JobType = "category_refresh"
)

// JobStatus is a node in the job state machine.
type JobStatus string

const (
	JobStatusPending          JobStatus = "pending"
	JobStatusAwaitingApproval JobStatus = "awaiting_approval"
	JobStatusApproved         JobStatus = "approved"
	JobStatusQueued           JobStatus = "queued"
	JobStatusRunning          JobStatus = "running"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
	JobStatusCancelled        JobStatus = "cancelled"
)

// IsTerminal reports whether the status is terminal.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// validTransitions enumerates the legal state machine edges.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:          {JobStatusAwaitingApproval, JobStatusApproved, JobStatusCancelled},
	JobStatusAwaitingApproval: {JobStatusApproved, JobStatusCancelled},
	JobStatusApproved:         {JobStatusQueued, JobStatusCancelled},
	JobStatusQueued:           {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning:          {JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusQueued},
}

// CanTransition reports whether from -> to is a legal state machine edge.
// running -> queued exists only for restart recovery of lapsed workers.
func CanTransition(from, to JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobSource identifies where an enqueue originated.
type JobSource string

const (
	JobSourceUserCLI       JobSource = "user_cli"
	JobSourceUserAPI       JobSource = "user_api"
	JobSourceScheduledTask JobSource = "scheduled_task"
	JobSourceSystem        JobSource = "system"
)

// ProcessingMode controls worker slot allocation.
type ProcessingMode string

const (
	ProcessingModeSerial   ProcessingMode = "serial"
	ProcessingModeParallel ProcessingMode = "parallel"
)

// SourceMetadata records provenance of the submitted content.
type SourceMetadata struct {
	Filename   string `json:"filename,omitempty"`
	SourceType string `json:"source_type,omitempty"` // file, stdin, mcp, api
	SourcePath string `json:"source_path,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	Interface  string `json:"interface,omitempty"` // Originating interface tag
}

// JobAnalysis is the pre-execution estimate that drives the approval policy.
type JobAnalysis struct {
	Chunks             int   `json:"chunks"`
	Bytes              int64 `json:"bytes"`
	EstimatedCostCents int   `json:"estimated_cost_cents"`
}

// JobProgress is the latest progress snapshot for a job. Snapshots are
// monotonic per stage; the progress broker drops out-of-order updates.
type JobProgress struct {
	Stage           string `json:"stage"`
	Percent         int    `json:"percent"`
	ItemsProcessed  int    `json:"items_processed,omitempty"`
	ItemsTotal      int    `json:"items_total,omitempty"`
	Message         string `json:"message,omitempty"`
	ChunksProcessed int    `json:"chunks_processed,omitempty"`
	ChunksTotal     int    `json:"chunks_total,omitempty"`
	ConceptsCreated int    `json:"concepts_created,omitempty"`
	SourcesCreated  int    `json:"sources_created,omitempty"`
}

// JobStats aggregates per-document ingestion statistics.
type JobStats struct {
	ChunksProcessed      int `json:"chunks_processed"`
	SourcesCreated       int `json:"sources_created"`
	ConceptsCreated      int `json:"concepts_created"`
	ConceptsLinked       int `json:"concepts_linked"`
	InstancesCreated     int `json:"instances_created"`
	RelationshipsCreated int `json:"relationships_created"`
	ExtractionTokens     int `json:"extraction_tokens"`
	EmbeddingTokens      int `json:"embedding_tokens"`
}

// JobResult is the terminal payload of a completed job.
type JobResult struct {
	Status          string    `json:"status"` // "success", "already_ingested", job-type specific
	Stats           *JobStats `json:"stats,omitempty"`
	Ontology        string    `json:"ontology,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	ChunksProcessed int       `json:"chunks_processed,omitempty"`
	Message         string    `json:"message,omitempty"`
	DocumentID      string    `json:"document_id,omitempty"`
}

// Job is the durable unit of asynchronous work. Mutated only by the queue on
// state transitions and by the owning worker on progress/completion.
type Job struct {
	JobID          string          `json:"job_id" badgerhold:"key"`
	JobType        JobType         `json:"job_type" badgerhold:"index"`
	Status         JobStatus       `json:"status" badgerhold:"index"`
	ContentHash    string          `json:"content_hash,omitempty" badgerhold:"index"`
	Ontology       string          `json:"ontology,omitempty"`
	UserID         int64           `json:"user_id"`
	IsSystemJob    bool            `json:"is_system_job"`
	Source         JobSource       `json:"source"`
	SourceMetadata SourceMetadata  `json:"source_metadata"`
	ProcessingMode ProcessingMode  `json:"processing_mode"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy     string          `json:"approved_by,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	Analysis       *JobAnalysis    `json:"analysis,omitempty"`
	Progress       *JobProgress    `json:"progress,omitempty"`
	Result         *JobResult      `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	JobData        json.RawMessage `json:"job_data,omitempty"`
	ArtifactID     string          `json:"artifact_id,omitempty"`
	Heartbeat      *time.Time      `json:"heartbeat,omitempty"`
}

// EnqueueSpec carries everything needed to create a job.
type EnqueueSpec struct {
	JobType        JobType         `json:"job_type" validate:"required"`
	JobData        json.RawMessage `json:"job_data,omitempty"`
	ContentHash    string          `json:"content_hash,omitempty"`
	Ontology       string          `json:"ontology,omitempty"`
	UserID         int64           `json:"user_id"`
	IsSystemJob    bool            `json:"is_system_job"`
	Source         JobSource       `json:"source" validate:"omitempty,oneof=user_cli user_api scheduled_task system"`
	SourceMetadata SourceMetadata  `json:"source_metadata"`
	ProcessingMode ProcessingMode  `json:"processing_mode" validate:"omitempty,oneof=serial parallel"`
	Analysis       *JobAnalysis    `json:"analysis,omitempty"`
	Force          bool            `json:"force"`
}

// EnqueueOutcome reports the result of an Enqueue call, including the
// duplicate short-circuit paths.
type EnqueueOutcome struct {
	JobID         string     `json:"job_id,omitempty"`
	Status        JobStatus  `json:"status,omitempty"`
	Duplicate     bool       `json:"duplicate,omitempty"`
	ExistingJobID string     `json:"existing_job_id,omitempty"`
	Result        *JobResult `json:"result,omitempty"`
	Message       string     `json:"message,omitempty"`
	UseForce      string     `json:"use_force,omitempty"`
}

// JobFilter selects jobs for List.
type JobFilter struct {
	Status      JobStatus
	UserID      int64 // 0 = any
	SystemOnly  bool
	UserOnly    bool
	JobType     JobType
	CreatedFrom time.Time
	Limit       int
	Offset      int
}

// IngestionJobData is the typed view of job_data for ingestion jobs. The
// queue treats job_data as opaque; the ingestion worker decodes this.
type IngestionJobData struct {
	Document string `json:"document"` // Full document text
	Ontology string `json:"ontology"`
	Force    bool   `json:"force"`
	Filename string `json:"filename,omitempty"`
}

// RestoreJobData is the typed view of job_data for restore jobs.
type RestoreJobData struct {
	TempBlobKey        string `json:"temp_blob_key"`
	Partial            bool   `json:"partial"`
	PreserveOnFailure  bool   `json:"preserve_on_failure"`
	RequestedByUserID  int64  `json:"requested_by_user_id"`
	SourceFilename     string `json:"source_filename,omitempty"`
	OverwriteOntology  string `json:"overwrite_ontology,omitempty"`
	SkipIntegrityCheck bool   `json:"skip_integrity_check,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate applies defaults and performs structural validation on an
// enqueue spec.
func (s *EnqueueSpec) Validate() error {
	if s.ProcessingMode == "" {
		s.ProcessingMode = ProcessingModeSerial
	}
	if s.Source == "" {
		s.Source = JobSourceUserAPI
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid enqueue spec: %w", err)
	}
	return nil
}
