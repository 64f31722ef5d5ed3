// -----------------------------------------------------------------------
// Dispatcher - assigns approved jobs to worker slots in FIFO order and
// drives the registered executor for each job type
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

const heartbeatInterval = 30 * time.Second

// Dispatcher owns the worker pool. A scan loop selects approved jobs in
// FIFO order by created_at and assigns them to slots until
// max_concurrent_workers is reached. serial jobs additionally hold an
// exclusive lane so at most one runs at a time; the lane is acquired
// before the pool slot so a waiting serial job never parks a worker.
type Dispatcher struct {
	manager   *Manager
	logger    arbor.ILogger
	interval  time.Duration
	slots     chan struct{}
	serial    chan struct{}
	executors map[models.JobType]interfaces.JobExecutor
	inflight  sync.Map // job_id -> struct{}
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewDispatcher creates a dispatcher with maxWorkers slots.
func NewDispatcher(manager *Manager, maxWorkers int, interval time.Duration, logger arbor.ILogger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Dispatcher{
		manager:   manager,
		logger:    logger,
		interval:  interval,
		slots:     make(chan struct{}, maxWorkers),
		serial:    make(chan struct{}, 1),
		executors: make(map[models.JobType]interfaces.JobExecutor),
	}
}

// Register adds an executor for its job type. Panics on duplicate
// registration; wiring happens once at startup.
func (d *Dispatcher) Register(executor interfaces.JobExecutor) {
	jobType := executor.JobType()
	if _, exists := d.executors[jobType]; exists {
		panic(fmt.Sprintf("executor already registered for job type %s", jobType))
	}
	d.executors[jobType] = executor
	d.logger.Debug().Str("job_type", string(jobType)).Msg("Job executor registered")
}

// Start launches the scan loop.
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
				d.scan(runCtx)
			}
		}
	}()

	d.logger.Info().
		Int("max_workers", cap(d.slots)).
		Dur("interval", d.interval).
		Msg("Job dispatcher started")
}

// Stop cancels the loop and waits for in-flight workers.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info().Msg("Job dispatcher stopped")
}

// scan assigns eligible jobs to free slots. Recovered queued jobs are
// picked up ahead of freshly approved ones.
func (d *Dispatcher) scan(ctx context.Context) {
	for _, status := range []models.JobStatus{models.JobStatusQueued, models.JobStatusApproved} {
		jobs, err := d.manager.storage.ListByStatus(ctx, status)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Dispatcher scan failed")
			return
		}
		for _, job := range jobs {
			if _, running := d.inflight.Load(job.JobID); running {
				continue
			}
			if job.ProcessingMode == models.ProcessingModeSerial {
				// Serial jobs queue on the lane without a slot; the slot is
				// taken inside the worker once the lane is held.
				d.launch(ctx, job)
				continue
			}
			select {
			case d.slots <- struct{}{}:
			default:
				return // Pool saturated; next tick resumes
			}
			d.launch(ctx, job)
		}
	}
}

func (d *Dispatcher) launch(ctx context.Context, job *models.Job) {
	d.inflight.Store(job.JobID, struct{}{})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inflight.Delete(job.JobID)

		if job.ProcessingMode == models.ProcessingModeSerial {
			select {
			case d.serial <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-d.serial }()
			select {
			case d.slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		defer func() { <-d.slots }()

		d.run(ctx, job)
	}()
}

func (d *Dispatcher) run(ctx context.Context, job *models.Job) {
	executor, ok := d.executors[job.JobType]
	if !ok {
		_ = d.manager.Fail(ctx, job.JobID, common.Ef(common.KindUnexpected, "no executor registered for job type %s", job.JobType))
		return
	}

	if err := d.manager.markRunning(ctx, job); err != nil {
		// Lost the race with a cancel; leave the job alone
		d.logger.Debug().Err(err).Str("job_id", job.JobID).Msg("Job not runnable")
		return
	}

	runCtx, cancelHeartbeat := context.WithCancel(ctx)
	go d.heartbeatLoop(runCtx, job.JobID)

	defer func() {
		cancelHeartbeat()
		if r := recover(); r != nil {
			d.logger.Error().
				Str("job_id", job.JobID).
				Str("panic", fmt.Sprint(r)).
				Msg("Job executor panicked")
			_ = d.manager.Fail(ctx, job.JobID, fmt.Errorf("executor panic: %v", r))
		}
	}()

	d.logger.Info().
		Str("job_id", job.JobID).
		Str("job_type", string(job.JobType)).
		Msg("Job execution starting")

	result, err := executor.Execute(runCtx, job)
	if err != nil {
		if cancelled, checkErr := d.manager.IsCancelled(ctx, job.JobID); checkErr == nil && cancelled {
			return // Cancel already terminal; nothing further to record
		}
		_ = d.manager.Fail(ctx, job.JobID, err)
		return
	}

	if err := d.manager.Complete(ctx, job.JobID, result); err != nil {
		d.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to record job completion")
	}
}

func (d *Dispatcher) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.manager.Heartbeat(ctx, jobID); err != nil {
				d.logger.Trace().Err(err).Str("job_id", jobID).Msg("Heartbeat write failed")
			}
		}
	}
}
