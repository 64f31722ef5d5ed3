// -----------------------------------------------------------------------
// Restore executor - applies an uploaded backup inside the checkpoint
// guard
// -----------------------------------------------------------------------

package backup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/checkpoint"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/models"
)

// RestoreExecutor runs restore jobs. The upload handler staged the raw
// container in the temp blob area; the executor parses, validates and
// applies it inside the checkpoint guard, then deletes the staging blob
// whatever the outcome.
type RestoreExecutor struct {
	queue   interfaces.QueueService
	service *Service
	guard   *checkpoint.Guard
	blobs   interfaces.BlobStore
	epoch   *metrics.EpochService
	logger  arbor.ILogger
}

// NewRestoreExecutor wires the restore pipeline.
func NewRestoreExecutor(queue interfaces.QueueService, service *Service, guard *checkpoint.Guard, blobs interfaces.BlobStore, epoch *metrics.EpochService, logger arbor.ILogger) *RestoreExecutor {
	return &RestoreExecutor{
		queue:   queue,
		service: service,
		guard:   guard,
		blobs:   blobs,
		epoch:   epoch,
		logger:  logger,
	}
}

// JobType identifies the job type this executor handles.
func (e *RestoreExecutor) JobType() models.JobType {
	return models.JobTypeRestore
}

// Execute runs one restore job to completion.
func (e *RestoreExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	var data models.RestoreJobData
	if err := json.Unmarshal(job.JobData, &data); err != nil {
		return nil, common.Wrap(common.KindUnprocessable, "malformed restore job data", err)
	}
	if data.TempBlobKey == "" {
		return nil, common.E(common.KindValidation, "restore job has no staged upload")
	}

	// The staging blob is deleted whatever happens; a failed restore must
	// not leave dead uploads behind.
	defer func() {
		if err := e.blobs.Delete(context.WithoutCancel(ctx), data.TempBlobKey); err != nil {
			e.logger.Warn().Err(err).Str("blob_key", data.TempBlobKey).Msg("Failed to delete restore staging blob")
		}
	}()

	e.progress(ctx, job.JobID, "validating", 10)

	raw, err := e.blobs.Get(ctx, data.TempBlobKey)
	if err != nil {
		return nil, common.Wrap(common.KindUnexpected, "staged restore upload missing", err)
	}

	container, err := e.service.Parse(raw)
	if err != nil {
		return nil, err
	}
	originalSchema := schemaVersionOf(raw)

	if !data.SkipIntegrityCheck {
		if err := e.service.Validate(container); err != nil {
			return nil, err
		}
	}

	if data.Partial && container.Type == models.BackupFull {
		return nil, common.E(common.KindUnprocessable, "partial restore requested but the file is a full backup")
	}
	if data.OverwriteOntology != "" {
		retargetOntology(container, data.OverwriteOntology)
	}

	e.progress(ctx, job.JobID, "restoring", 40)

	opName := "full restore"
	if container.Type == models.BackupPartial {
		opName = fmt.Sprintf("partial restore of %s", container.Ontology)
	}
	if err := e.guard.Run(ctx, opName, data.PreserveOnFailure, func(ctx context.Context) error {
		return e.service.Apply(ctx, container)
	}); err != nil {
		return nil, err
	}

	e.progress(ctx, job.JobID, "finalising", 90)

	if _, err := e.epoch.Refresh(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Epoch refresh after restore failed")
	}

	report := models.RestoreReport{
		Restored:      container.Statistics,
		SchemaVersion: models.CurrentSchemaVersion,
		Converted:     originalSchema != 0 && originalSchema < models.CurrentSchemaVersion,
		Partial:       container.Type == models.BackupPartial,
	}
	payload, _ := json.Marshal(report)

	e.logger.Info().
		Str("job_id", job.JobID).
		Str("type", string(container.Type)).
		Int("concepts", container.Statistics.ConceptCount).
		Bool("converted", report.Converted).
		Msg("Restore applied")

	return &models.JobResult{
		Status:   "success",
		Ontology: container.Ontology,
		Filename: data.SourceFilename,
		Message:  string(payload),
	}, nil
}

func (e *RestoreExecutor) progress(ctx context.Context, jobID, stage string, percent int) {
	snapshot := &models.JobProgress{Stage: stage, Percent: percent}
	if err := e.queue.UpdateProgress(ctx, jobID, snapshot); err != nil {
		e.logger.Trace().Err(err).Str("job_id", jobID).Msg("Progress update failed")
	}
}

// schemaVersionOf peeks the pre-conversion schema version out of the raw
// container without a full decode.
func schemaVersionOf(raw []byte) int {
	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return 0
	}
	return head.SchemaVersion
}

// retargetOntology rewrites a partial dump into a different ontology name.
func retargetOntology(container *models.Backup, name string) {
	container.Ontology = name
	for i := range container.Data.Concepts {
		container.Data.Concepts[i].Ontology = name
	}
	for i := range container.Data.Sources {
		container.Data.Sources[i].Ontology = name
	}
	for i := range container.Data.DocumentMeta {
		container.Data.DocumentMeta[i].Ontology = name
	}
	container.Data.Ontologies = []models.Ontology{{
		OntologyID:     "ont_" + name,
		Name:           name,
		LifecycleState: models.OntologyActive,
		CreatedAt:      container.Timestamp,
	}}
}

// Compile-time interface check
var _ interfaces.JobExecutor = (*RestoreExecutor)(nil)
