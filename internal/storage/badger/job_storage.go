package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) StoreJob(ctx context.Context, job *models.Job) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	// Dereference pointer for consistent type prefix with Find operations
	if err := s.db.Store().Upsert(job.JobID, *job); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	s.logger.Trace().
		Str("job_id", job.JobID).
		Str("status", string(job.Status)).
		Msg("BadgerDB: job stored")
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	if err := s.db.Store().Update(job.JobID, *job); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.Ef(common.KindNotFound, "job not found: %s", job.JobID)
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.Ef(common.KindNotFound, "job not found: %s", jobID)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	query := &badgerhold.Query{}
	if filter.Status != "" {
		query = badgerhold.Where("Status").Eq(filter.Status).Index("Status")
	} else if filter.JobType != "" {
		query = badgerhold.Where("JobType").Eq(filter.JobType).Index("JobType")
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	// Residual filters applied in memory; the job table is bounded by the
	// retention sweeps so a scan stays cheap.
	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		j := jobs[i]
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.JobType != "" && j.JobType != filter.JobType {
			continue
		}
		if filter.UserID != 0 && j.UserID != filter.UserID {
			continue
		}
		if filter.SystemOnly && !j.IsSystemJob {
			continue
		}
		if filter.UserOnly && j.IsSystemJob {
			continue
		}
		if !filter.CreatedFrom.IsZero() && j.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		result = append(result, &j)
	}

	// Page after filtering
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*models.Job{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (s *JobStorage) CountJobs(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(models.Job{}, badgerhold.Where("Status").Eq(status).Index("Status"))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// FindActiveByDedupKey returns the non-terminal job holding the dedup key,
// or nil when none exists.
func (s *JobStorage) FindActiveByDedupKey(ctx context.Context, contentHash, ontology string) (*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("ContentHash").Eq(contentHash).Index("ContentHash"))
	if err != nil {
		return nil, fmt.Errorf("failed to query dedup key: %w", err)
	}
	for i := range jobs {
		j := jobs[i]
		if j.Ontology == ontology && !j.Status.IsTerminal() {
			return &j, nil
		}
	}
	return nil, nil
}

// FindCompletedByDedupKey returns the most recent completed job for the
// dedup key, or nil when none exists.
func (s *JobStorage) FindCompletedByDedupKey(ctx context.Context, contentHash, ontology string) (*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("ContentHash").Eq(contentHash).Index("ContentHash"))
	if err != nil {
		return nil, fmt.Errorf("failed to query dedup key: %w", err)
	}
	var latest *models.Job
	for i := range jobs {
		j := jobs[i]
		if j.Ontology != ontology || j.Status != models.JobStatusCompleted {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = &j
		}
	}
	return latest, nil
}

func (s *JobStorage) ListExpiredApprovals(ctx context.Context, now time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("Status").Eq(models.JobStatusAwaitingApproval).Index("Status"))
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting jobs: %w", err)
	}
	expired := make([]*models.Job, 0)
	for i := range jobs {
		j := jobs[i]
		if j.ExpiresAt != nil && !now.Before(*j.ExpiresAt) {
			expired = append(expired, &j)
		}
	}
	return expired, nil
}

func (s *JobStorage) ListTerminalBefore(ctx context.Context, status models.JobStatus, cutoff time.Time) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status).Index("Status"))
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal jobs: %w", err)
	}
	old := make([]*models.Job, 0)
	for i := range jobs {
		j := jobs[i]
		if j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			old = append(old, &j)
		}
	}
	return old, nil
}

func (s *JobStorage) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	err := s.db.Store().Find(&jobs,
		badgerhold.Where("Status").Eq(status).Index("Status").SortBy("CreatedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	result := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		result = append(result, &jobs[i])
	}
	return result, nil
}
