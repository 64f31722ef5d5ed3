package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/artifacts"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// BackupExecutor runs backup jobs: it exports the graph and registers the
// dump as a backup artifact so it can be downloaded later.
type BackupExecutor struct {
	queue     interfaces.QueueService
	service   *Service
	artifacts *artifacts.Store
	logger    arbor.ILogger
}

// NewBackupExecutor wires the backup job.
func NewBackupExecutor(queue interfaces.QueueService, service *Service, artifactStore *artifacts.Store, logger arbor.ILogger) *BackupExecutor {
	return &BackupExecutor{queue: queue, service: service, artifacts: artifactStore, logger: logger}
}

// JobType identifies the job type this executor handles.
func (e *BackupExecutor) JobType() models.JobType {
	return models.JobTypeBackup
}

// Execute exports the graph (scoped to job.Ontology when set) into an
// artifact owned by the requesting user.
func (e *BackupExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	container, err := e.service.Export(ctx, job.Ontology)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(container)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("Backup %s", time.Now().UTC().Format("2006-01-02 15:04"))
	if job.Ontology != "" {
		name = fmt.Sprintf("Backup of %s %s", job.Ontology, time.Now().UTC().Format("2006-01-02 15:04"))
	}

	artifact, err := e.artifacts.Persist(ctx, &artifacts.PersistSpec{
		Type:           models.ArtifactTypeBackup,
		Representation: "json",
		Name:           name,
		OwnerID:        job.UserID,
		Payload:        payload,
		Ontology:       job.Ontology,
	})
	if err != nil {
		return nil, err
	}
	if err := e.queue.LinkArtifact(ctx, job.JobID, artifact.ID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to link backup artifact")
	}

	return &models.JobResult{
		Status:   "success",
		Ontology: job.Ontology,
		Message:  fmt.Sprintf("backup artifact %s (%d concepts)", artifact.ID, container.Statistics.ConceptCount),
	}, nil
}

// Compile-time interface check
var _ interfaces.JobExecutor = (*BackupExecutor)(nil)
