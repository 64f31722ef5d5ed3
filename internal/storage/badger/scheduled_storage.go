package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ScheduledJobStorage implements the ScheduledJobStorage interface for Badger
type ScheduledJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewScheduledJobStorage creates a new ScheduledJobStorage instance
func NewScheduledJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScheduledJobStorage {
	return &ScheduledJobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ScheduledJobStorage) StoreScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	if job.Name == "" {
		return fmt.Errorf("scheduled job name is required")
	}
	if err := s.db.Store().Upsert(job.Name, *job); err != nil {
		return fmt.Errorf("failed to store scheduled job: %w", err)
	}
	return nil
}

func (s *ScheduledJobStorage) GetScheduledJob(ctx context.Context, name string) (*models.ScheduledJob, error) {
	var job models.ScheduledJob
	if err := s.db.Store().Get(name, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "scheduled job not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return &job, nil
}

func (s *ScheduledJobStorage) UpdateScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	if err := s.db.Store().Update(job.Name, *job); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.Ef(common.KindNotFound, "scheduled job not found: %s", job.Name)
		}
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}
	return nil
}

func (s *ScheduledJobStorage) ListScheduledJobs(ctx context.Context) ([]*models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	if err := s.db.Store().Find(&jobs, (&badgerhold.Query{}).SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}
	result := make([]*models.ScheduledJob, 0, len(jobs))
	for i := range jobs {
		result = append(result, &jobs[i])
	}
	return result, nil
}
