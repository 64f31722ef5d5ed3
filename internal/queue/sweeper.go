// -----------------------------------------------------------------------
// Periodic sweeps: approval expiry and terminal-job retention
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
)

// Sweeper runs the periodic queue maintenance passes: expired
// awaiting_approval jobs transition to cancelled, and terminal jobs past
// their retention window are deleted.
type Sweeper struct {
	manager *Manager
	cfg     *common.QueueConfig
	logger  arbor.ILogger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper creates a queue sweeper
func NewSweeper(manager *Manager, cfg *common.QueueConfig, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	interval := time.Duration(s.cfg.CleanupIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Sweep(runCtx)
			}
		}
	}()

	s.logger.Info().Dur("interval", interval).Msg("Queue sweeper started")
}

// Stop cancels the loop.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	s.expireApprovals(ctx, now)
	s.applyRetention(ctx, now, models.JobStatusCompleted, s.cfg.CompletedRetentionHours)
	s.applyRetention(ctx, now, models.JobStatusFailed, s.cfg.FailedRetentionHours)
	s.applyRetention(ctx, now, models.JobStatusCancelled, s.cfg.FailedRetentionHours)
}

// expireApprovals cancels awaiting_approval jobs past expires_at.
func (s *Sweeper) expireApprovals(ctx context.Context, now time.Time) {
	expired, err := s.manager.storage.ListExpiredApprovals(ctx, now)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Approval expiry sweep failed")
		return
	}
	for _, job := range expired {
		job.CompletedAt = &now
		job.Error = "approval window expired"
		if err := s.manager.transition(ctx, job, models.JobStatusCancelled); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to cancel expired job")
			continue
		}
		s.manager.broker.Terminal(job.JobID, models.JobStatusCancelled, nil, job.Error)
		s.logger.Info().Str("job_id", job.JobID).Msg("Expired approval cancelled")
	}
}

// applyRetention deletes terminal jobs older than the retention window.
func (s *Sweeper) applyRetention(ctx context.Context, now time.Time, status models.JobStatus, retentionHours int) {
	if retentionHours <= 0 {
		return
	}
	cutoff := now.Add(-time.Duration(retentionHours) * time.Hour)
	old, err := s.manager.storage.ListTerminalBefore(ctx, status, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Str("status", string(status)).Msg("Retention sweep failed")
		return
	}
	for _, job := range old {
		if err := s.manager.storage.DeleteJob(ctx, job.JobID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to delete retained job")
			continue
		}
		if forgetter, ok := s.manager.broker.(interface{ Forget(string) }); ok {
			forgetter.Forget(job.JobID)
		}
	}
	if len(old) > 0 {
		s.logger.Info().
			Int("deleted", len(old)).
			Str("status", string(status)).
			Msg("Retention sweep removed old jobs")
	}
}
