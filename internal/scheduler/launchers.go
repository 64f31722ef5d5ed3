// -----------------------------------------------------------------------
// Launchers - the periodic producers behind the scheduled-jobs table
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/models"
)

// launcherDeps is the shared state every launcher inspects.
type launcherDeps struct {
	queue     interfaces.QueueService
	epoch     *metrics.EpochService
	artifacts interfaces.ArtifactStorage
}

// NewLaunchers builds the six standard launchers.
func NewLaunchers(queue interfaces.QueueService, epoch *metrics.EpochService, artifacts interfaces.ArtifactStorage) []interfaces.Launcher {
	deps := &launcherDeps{queue: queue, epoch: epoch, artifacts: artifacts}
	return []interfaces.Launcher{
		&categoryRefreshLauncher{deps},
		&vocabConsolidationLauncher{deps},
		&projectionRefreshLauncher{deps},
		&epistemicLauncher{deps},
		&artifactCleanupLauncher{deps},
		&annealingLauncher{deps},
	}
}

// hasActive reports whether a non-terminal job of the given type already
// exists; launchers skip enqueueing while one is in flight.
func (d *launcherDeps) hasActive(ctx context.Context, jobType models.JobType) (bool, error) {
	for _, status := range []models.JobStatus{
		models.JobStatusPending, models.JobStatusAwaitingApproval,
		models.JobStatusApproved, models.JobStatusQueued, models.JobStatusRunning,
	} {
		jobs, err := d.queue.List(ctx, models.JobFilter{Status: status, JobType: jobType, Limit: 1})
		if err != nil {
			return false, err
		}
		if len(jobs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// systemSpec builds the enqueue spec every launcher produces.
func systemSpec(jobType models.JobType) *models.EnqueueSpec {
	return &models.EnqueueSpec{
		JobType:        jobType,
		UserID:         models.SystemUserID,
		IsSystemJob:    true,
		Source:         models.JobSourceScheduledTask,
		ProcessingMode: models.ProcessingModeSerial,
	}
}

// maybeEnqueue wraps the skip-while-active rule shared by all launchers.
func (d *launcherDeps) maybeEnqueue(ctx context.Context, jobType models.JobType) ([]*models.EnqueueSpec, error) {
	active, err := d.hasActive(ctx, jobType)
	if err != nil || active {
		return nil, err
	}
	return []*models.EnqueueSpec{systemSpec(jobType)}, nil
}

// categoryRefreshLauncher refreshes the category counters and the graph
// census snapshot.
type categoryRefreshLauncher struct{ *launcherDeps }

func (l *categoryRefreshLauncher) Name() string { return models.LauncherCategoryRefresh }

func (l *categoryRefreshLauncher) Tick(ctx context.Context, now time.Time) ([]*models.EnqueueSpec, error) {
	return l.maybeEnqueue(ctx, models.JobTypeCategoryRefresh)
}

// vocabConsolidationLauncher fires only when the vocabulary moved since
// the last consolidation.
type vocabConsolidationLauncher struct{ *launcherDeps }

func (l *vocabConsolidationLauncher) Name() string { return models.LauncherVocabConsolidation }

func (l *vocabConsolidationLauncher) Tick(ctx context.Context, now time.Time) ([]*models.EnqueueSpec, error) {
	delta, err := l.epoch.Delta(ctx, models.MetricVocabularyChangeCounter, models.MetricLastBreathingEpoch)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, nil
	}
	return l.maybeEnqueue(ctx, models.JobTypeVocabConsolidation)
}

// projectionRefreshLauncher fires when any non-superseded projection
// artifact is stale against the current graph epoch.
type projectionRefreshLauncher struct{ *launcherDeps }

func (l *projectionRefreshLauncher) Name() string { return models.LauncherProjectionRefresh }

func (l *projectionRefreshLauncher) Tick(ctx context.Context, now time.Time) ([]*models.EnqueueSpec, error) {
	current, err := l.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}
	projections, err := l.artifacts.ListArtifacts(ctx, models.ArtifactFilter{ArtifactType: models.ArtifactTypeProjection})
	if err != nil {
		return nil, err
	}
	stale := false
	for _, p := range projections {
		if !p.Superseded && p.GraphEpoch != current {
			stale = true
			break
		}
	}
	if !stale {
		return nil, nil
	}
	return l.maybeEnqueue(ctx, models.JobTypeProjectionRefresh)
}

// epistemicLauncher re-measures when the vocabulary moved since the last
// measurement watermark.
type epistemicLauncher struct{ *launcherDeps }

func (l *epistemicLauncher) Name() string { return models.LauncherEpistemicRemeasure }

func (l *epistemicLauncher) Tick(ctx context.Context, now time.Time) ([]*models.EnqueueSpec, error) {
	delta, err := l.epoch.Delta(ctx, models.MetricVocabularyChangeCounter, models.MetricLastEpistemicMeasure)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, nil
	}
	return l.maybeEnqueue(ctx, models.JobTypeEpistemicRemeasure)
}

// artifactCleanupLauncher runs unconditionally; the executor decides what
// to delete.
type artifactCleanupLauncher struct{ *launcherDeps }

func (l *artifactCleanupLauncher) Name() string { return models.LauncherArtifactCleanup }

func (l *artifactCleanupLauncher) Tick(ctx context.Context, now time.Time) ([]*models.EnqueueSpec, error) {
	return l.maybeEnqueue(ctx, models.JobTypeArtifactCleanup)
}

// annealingLauncher fires when the graph moved since the last annealing
// watermark.
type annealingLauncher struct{ *launcherDeps }

func (l *annealingLauncher) Name() string { return models.LauncherOntologyAnnealing }

func (l *annealingLauncher) Tick(ctx context.Context, now time.Time) ([]*models.EnqueueSpec, error) {
	delta, err := l.epoch.Delta(ctx, models.MetricGraphChangeCounter, models.MetricLastAnnealingEpoch)
	if err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, nil
	}
	return l.maybeEnqueue(ctx, models.JobTypeOntologyAnnealing)
}
