// -----------------------------------------------------------------------
// Scheduled-jobs dispatcher - cron-driven launchers feeding the job queue
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// retryBaseBackoff is the delay after the first launcher failure; it
// doubles per consecutive failure until max_retries disables the row.
const retryBaseBackoff = time.Minute

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Dispatcher drives the scheduled-jobs table. Each tick it runs every
// enabled row whose next_run has arrived, enqueues whatever specs the
// launcher returns, and recomputes next_run from the cron expression.
// Launchers are idempotent: a tick that finds nothing to do returns no
// specs and that still counts as success.
type Dispatcher struct {
	storage   interfaces.ScheduledJobStorage
	queue     interfaces.QueueService
	logger    arbor.ILogger
	interval  time.Duration
	launchers map[string]interfaces.Launcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a scheduled-jobs dispatcher.
func NewDispatcher(storage interfaces.ScheduledJobStorage, queue interfaces.QueueService, interval time.Duration, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		storage:   storage,
		queue:     queue,
		logger:    logger,
		interval:  interval,
		launchers: make(map[string]interfaces.Launcher),
	}
}

// Register adds a launcher under its name. Panics on duplicate
// registration; wiring happens once at startup.
func (d *Dispatcher) Register(launcher interfaces.Launcher) {
	name := launcher.Name()
	if _, exists := d.launchers[name]; exists {
		panic(fmt.Sprintf("launcher already registered: %s", name))
	}
	d.launchers[name] = launcher
}

// Start launches the tick loop.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.Tick(runCtx, time.Now().UTC())
			}
		}
	}()

	d.logger.Info().
		Dur("interval", d.interval).
		Int("launchers", len(d.launchers)).
		Msg("Scheduler started")
}

// Stop cancels the loop.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Tick runs every due row once.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) {
	rows, err := d.storage.ListScheduledJobs(ctx)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Scheduler tick failed to list rows")
		return
	}
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		if row.NextRun == nil {
			d.initNextRun(ctx, row, now)
			continue
		}
		if now.Before(*row.NextRun) {
			continue
		}
		d.runRow(ctx, row, now)
	}
}

// initNextRun seeds next_run for a row that has never been scheduled.
func (d *Dispatcher) initNextRun(ctx context.Context, row *models.ScheduledJob, now time.Time) {
	next, err := nextRun(row.ScheduleCron, now)
	if err != nil {
		d.logger.Warn().Err(err).Str("name", row.Name).Msg("Scheduled job has invalid cron expression")
		return
	}
	row.NextRun = &next
	if err := d.storage.UpdateScheduledJob(ctx, row); err != nil {
		d.logger.Warn().Err(err).Str("name", row.Name).Msg("Failed to seed next_run")
	}
}

// runRow executes one due launcher and updates the row's bookkeeping.
func (d *Dispatcher) runRow(ctx context.Context, row *models.ScheduledJob, now time.Time) {
	row.LastRun = &now

	launcher, ok := d.launchers[row.Launcher]
	if !ok {
		d.recordFailure(ctx, row, now, common.Ef(common.KindUnexpected, "no launcher registered: %s", row.Launcher))
		return
	}

	specs, err := launcher.Tick(ctx, now)
	if err != nil {
		d.recordFailure(ctx, row, now, err)
		return
	}

	enqueued := 0
	for _, spec := range specs {
		outcome, err := d.queue.Enqueue(ctx, spec)
		if err != nil {
			d.recordFailure(ctx, row, now, err)
			return
		}
		if !outcome.Duplicate {
			enqueued++
		}
	}

	row.LastSuccess = &now
	row.LastError = ""
	row.RetryCount = 0
	next, err := nextRun(row.ScheduleCron, now)
	if err == nil {
		row.NextRun = &next
	}
	if err := d.storage.UpdateScheduledJob(ctx, row); err != nil {
		d.logger.Warn().Err(err).Str("name", row.Name).Msg("Failed to record scheduler success")
		return
	}

	if enqueued > 0 {
		d.logger.Info().
			Str("name", row.Name).
			Int("enqueued", enqueued).
			Msg("Scheduled launcher enqueued jobs")
	}
}

// recordFailure bumps the retry counter with exponential backoff and
// disables the row once max_retries is exhausted.
func (d *Dispatcher) recordFailure(ctx context.Context, row *models.ScheduledJob, now time.Time, cause error) {
	row.LastFailure = &now
	row.LastError = cause.Error()
	row.RetryCount++

	if row.MaxRetries > 0 && row.RetryCount >= row.MaxRetries {
		row.Enabled = false
		d.logger.Error().
			Str("name", row.Name).
			Int("retries", row.RetryCount).
			Err(cause).
			Msg("Scheduled job disabled after repeated failures")
	} else {
		backoff := retryBaseBackoff << (row.RetryCount - 1)
		next := now.Add(backoff)
		row.NextRun = &next
		d.logger.Warn().
			Str("name", row.Name).
			Dur("backoff", backoff).
			Err(cause).
			Msg("Scheduled launcher failed; will retry")
	}

	if err := d.storage.UpdateScheduledJob(ctx, row); err != nil {
		d.logger.Warn().Err(err).Str("name", row.Name).Msg("Failed to record scheduler failure")
	}
}

// ValidateCron checks a five-field cron expression without scheduling it.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	if err != nil {
		return common.Ef(common.KindValidation, "invalid cron expression %q", expr)
	}
	return nil
}

// nextRun computes the next fire time for a five-field cron expression.
func nextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(after), nil
}
