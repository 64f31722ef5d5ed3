package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/progress"
	badgerstore "github.com/ternarybob/cognatio/internal/storage/badger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := common.GetLogger()

	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queueCfg := &common.QueueConfig{
		CompletedRetentionHours: 48,
		FailedRetentionHours:    168,
		ApprovalTimeoutHours:    24,
		HeartbeatTimeoutMinutes: 15,
	}
	approval := &common.ApprovalConfig{
		AutoApproveUnderCostCents: 100,
		AutoApproveUnderChunks:    50,
	}
	return NewManager(badgerstore.NewJobStorage(db, logger), progress.NewBroker(logger), queueCfg, approval, logger)
}

func testApprover() *models.Identity {
	return &models.Identity{UserID: 1000, Username: "admin"}
}

func TestEnqueue_AutoApproved(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:  models.JobTypeIngestion,
		Ontology: "physics",
		UserID:   1000,
		Analysis: &models.JobAnalysis{Chunks: 3, EstimatedCostCents: 5},
	})
	require.NoError(t, err)
	require.False(t, outcome.Duplicate)
	require.Equal(t, models.JobStatusQueued, outcome.Status, "auto-approved jobs report queued to the caller")

	job, err := m.Get(ctx, outcome.JobID)
	require.NoError(t, err)
	require.Nil(t, job.ExpiresAt)
}

func TestEnqueue_RequiresApprovalOverCost(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:  models.JobTypeIngestion,
		Ontology: "physics",
		UserID:   1000,
		Analysis: &models.JobAnalysis{Chunks: 3, EstimatedCostCents: 250},
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusAwaitingApproval, outcome.Status)

	job, err := m.Get(ctx, outcome.JobID)
	require.NoError(t, err)
	require.NotNil(t, job.ExpiresAt, "awaiting_approval jobs must carry an expiry")
}

func TestEnqueue_RequiresApprovalOverChunks(t *testing.T) {
	m := newTestManager(t)

	outcome, err := m.Enqueue(context.Background(), &models.EnqueueSpec{
		JobType:  models.JobTypeIngestion,
		UserID:   1000,
		Analysis: &models.JobAnalysis{Chunks: 120, EstimatedCostCents: 10},
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusAwaitingApproval, outcome.Status)
}

func TestEnqueue_SystemJobsBypassApproval(t *testing.T) {
	m := newTestManager(t)

	outcome, err := m.Enqueue(context.Background(), &models.EnqueueSpec{
		JobType:     models.JobTypeArtifactCleanup,
		UserID:      models.SystemUserID,
		IsSystemJob: true,
		Source:      models.JobSourceScheduledTask,
		Analysis:    &models.JobAnalysis{Chunks: 9999, EstimatedCostCents: 9999},
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, outcome.Status)
}

func TestEnqueue_DedupActive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	hash := common.ContentHash([]byte("the document"))

	first, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:     models.JobTypeIngestion,
		ContentHash: hash,
		Ontology:    "physics",
		UserID:      1000,
	})
	require.NoError(t, err)

	second, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:     models.JobTypeIngestion,
		ContentHash: hash,
		Ontology:    "physics",
		UserID:      1001,
	})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.JobID, second.ExistingJobID)

	// Same hash, different ontology is not a duplicate
	third, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:     models.JobTypeIngestion,
		ContentHash: hash,
		Ontology:    "chemistry",
		UserID:      1000,
	})
	require.NoError(t, err)
	require.False(t, third.Duplicate)
}

func TestEnqueue_DedupCompletedAndForce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	hash := common.ContentHash([]byte("ingested already"))

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:     models.JobTypeIngestion,
		ContentHash: hash,
		Ontology:    "physics",
		UserID:      1000,
	})
	require.NoError(t, err)
	completeJob(t, m, outcome.JobID)

	dup, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:     models.JobTypeIngestion,
		ContentHash: hash,
		Ontology:    "physics",
		UserID:      1000,
	})
	require.NoError(t, err)
	require.True(t, dup.Duplicate)
	require.Equal(t, outcome.JobID, dup.ExistingJobID)
	require.NotNil(t, dup.Result, "completed duplicate returns the prior result")
	require.NotEmpty(t, dup.UseForce)

	forced, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:     models.JobTypeIngestion,
		ContentHash: hash,
		Ontology:    "physics",
		UserID:      1000,
		Force:       true,
	})
	require.NoError(t, err)
	require.False(t, forced.Duplicate, "force bypasses the completed-duplicate check")
}

func TestEnqueue_ConcurrentSameDocumentCreatesOneJob(t *testing.T) {
	m := newTestManager(t)
	hash := common.ContentHash([]byte("racing document"))

	const submitters = 8
	outcomes := make([]*models.EnqueueOutcome, submitters)
	errs := make([]error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = m.Enqueue(context.Background(), &models.EnqueueSpec{
				JobType:     models.JobTypeIngestion,
				ContentHash: hash,
				Ontology:    "physics",
				UserID:      int64(1000 + i),
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		if !outcomes[i].Duplicate {
			created++
		}
	}
	require.Equal(t, 1, created, "racing submissions of the same bytes must collapse to one job")

	jobs, err := m.List(context.Background(), models.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestEnqueue_RejectsMalformedHash(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Enqueue(context.Background(), &models.EnqueueSpec{
		JobType:     models.JobTypeIngestion,
		ContentHash: "not-a-hash",
	})
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindValidation))
}

// completeJob drives a job through queued/running to completed.
func completeJob(t *testing.T, m *Manager, jobID string) {
	t.Helper()
	ctx := context.Background()
	job, err := m.Get(ctx, jobID)
	require.NoError(t, err)
	require.NoError(t, m.markRunning(ctx, job))
	require.NoError(t, m.Complete(ctx, jobID, &models.JobResult{Status: "success"}))
}

func TestApprove(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:  models.JobTypeIngestion,
		UserID:   1000,
		Analysis: &models.JobAnalysis{EstimatedCostCents: 500},
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusAwaitingApproval, outcome.Status)

	require.NoError(t, m.Approve(ctx, outcome.JobID, testApprover()))

	job, err := m.Get(ctx, outcome.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusApproved, job.Status)
	require.Equal(t, "admin", job.ApprovedBy)
	require.Nil(t, job.ExpiresAt, "approval clears the expiry window")

	// Approving an approved job conflicts
	err = m.Approve(ctx, outcome.JobID, testApprover())
	require.True(t, common.IsKind(err, common.KindConflict))
}

func TestCancel(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{JobType: models.JobTypeIngestion, UserID: 1000})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, outcome.JobID, testApprover()))

	job, err := m.Get(ctx, outcome.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)

	// Cancelling a terminal job conflicts
	err = m.Cancel(ctx, outcome.JobID, testApprover())
	require.True(t, common.IsKind(err, common.KindConflict))
}

func TestDelete_TerminalOnly(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{JobType: models.JobTypeIngestion, UserID: 1000})
	require.NoError(t, err)

	err = m.Delete(ctx, outcome.JobID, testApprover())
	require.True(t, common.IsKind(err, common.KindConflict), "non-terminal jobs cannot be deleted")

	completeJob(t, m, outcome.JobID)
	require.NoError(t, m.Delete(ctx, outcome.JobID, testApprover()))

	_, err = m.Get(ctx, outcome.JobID)
	require.Error(t, err)
}

func TestCompleteAndFail_Idempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{JobType: models.JobTypeIngestion, UserID: 1000})
	require.NoError(t, err)
	completeJob(t, m, outcome.JobID)

	// Repeat completion is a no-op
	require.NoError(t, m.Complete(ctx, outcome.JobID, &models.JobResult{Status: "success"}))
	// Failing a completed job is a conflict via Complete but ignored via Fail
	require.NoError(t, m.Fail(ctx, outcome.JobID, context.DeadlineExceeded))

	job, err := m.Get(ctx, outcome.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestUpdateProgress(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Enqueue(ctx, &models.EnqueueSpec{JobType: models.JobTypeIngestion, UserID: 1000})
	require.NoError(t, err)

	snapshot := &models.JobProgress{Stage: "chunking", Percent: 25, ChunksProcessed: 1, ChunksTotal: 4}
	require.NoError(t, m.UpdateProgress(ctx, outcome.JobID, snapshot))

	job, err := m.Get(ctx, outcome.JobID)
	require.NoError(t, err)
	require.Equal(t, 25, job.Progress.Percent)

	// Progress against a terminal job is ignored
	completeJob(t, m, outcome.JobID)
	require.NoError(t, m.UpdateProgress(ctx, outcome.JobID, &models.JobProgress{Stage: "late", Percent: 99}))
	job, err = m.Get(ctx, outcome.JobID)
	require.NoError(t, err)
	require.Equal(t, "chunking", job.Progress.Stage)
}

func TestRecoverLapsed(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// A running job whose heartbeat lapsed
	lapsed, err := m.Enqueue(ctx, &models.EnqueueSpec{JobType: models.JobTypeIngestion, UserID: 1000})
	require.NoError(t, err)
	job, err := m.Get(ctx, lapsed.JobID)
	require.NoError(t, err)
	require.NoError(t, m.markRunning(ctx, job))
	stale := time.Now().UTC().Add(-time.Hour)
	job.Heartbeat = &stale
	require.NoError(t, m.storage.UpdateJob(ctx, job))

	// A running job with a fresh heartbeat
	healthy, err := m.Enqueue(ctx, &models.EnqueueSpec{JobType: models.JobTypeIngestion, UserID: 1000, Ontology: "other"})
	require.NoError(t, err)
	hjob, err := m.Get(ctx, healthy.JobID)
	require.NoError(t, err)
	require.NoError(t, m.markRunning(ctx, hjob))

	recovered, err := m.RecoverLapsed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	job, err = m.Get(ctx, lapsed.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, job.Status)

	hjob, err = m.Get(ctx, healthy.JobID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusRunning, hjob.Status)
}

func TestList_Filters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, &models.EnqueueSpec{JobType: models.JobTypeIngestion, UserID: 1000})
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, &models.EnqueueSpec{
		JobType:     models.JobTypeArtifactCleanup,
		UserID:      models.SystemUserID,
		IsSystemJob: true,
		Source:      models.JobSourceSystem,
	})
	require.NoError(t, err)

	system, err := m.List(ctx, models.JobFilter{SystemOnly: true})
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.True(t, system[0].IsSystemJob)

	user, err := m.List(ctx, models.JobFilter{UserOnly: true})
	require.NoError(t, err)
	require.Len(t, user, 1)
	require.False(t, user[0].IsSystemJob)

	byType, err := m.List(ctx, models.JobFilter{JobType: models.JobTypeIngestion})
	require.NoError(t, err)
	require.Len(t, byType, 1)
}
