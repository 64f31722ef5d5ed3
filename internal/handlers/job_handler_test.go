package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/progress"
)

// handlerQueue serves canned jobs and records mutations.
type handlerQueue struct {
	jobs       map[string]*models.Job
	lastFilter models.JobFilter
	lastSpec   *models.EnqueueSpec
	outcome    *models.EnqueueOutcome
	approved   []string
	cancelled  []string
	deleted    []string
}

func (q *handlerQueue) Enqueue(_ context.Context, spec *models.EnqueueSpec) (*models.EnqueueOutcome, error) {
	q.lastSpec = spec
	if q.outcome != nil {
		return q.outcome, nil
	}
	return &models.EnqueueOutcome{JobID: "job-new", Status: models.JobStatusQueued}, nil
}

func (q *handlerQueue) Get(_ context.Context, jobID string) (*models.Job, error) {
	if job, ok := q.jobs[jobID]; ok {
		return job, nil
	}
	return nil, common.Ef(common.KindNotFound, "job %s not found", jobID)
}

func (q *handlerQueue) List(_ context.Context, filter models.JobFilter) ([]*models.Job, error) {
	q.lastFilter = filter
	out := make([]*models.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (q *handlerQueue) Approve(_ context.Context, jobID string, _ *models.Identity) error {
	q.approved = append(q.approved, jobID)
	return nil
}

func (q *handlerQueue) Cancel(_ context.Context, jobID string, _ *models.Identity) error {
	q.cancelled = append(q.cancelled, jobID)
	return nil
}

func (q *handlerQueue) Delete(_ context.Context, jobID string, _ *models.Identity) error {
	q.deleted = append(q.deleted, jobID)
	return nil
}

func (q *handlerQueue) UpdateProgress(context.Context, string, *models.JobProgress) error { return nil }
func (q *handlerQueue) Complete(context.Context, string, *models.JobResult) error         { return nil }
func (q *handlerQueue) Fail(context.Context, string, error) error                         { return nil }
func (q *handlerQueue) Heartbeat(context.Context, string) error                           { return nil }
func (q *handlerQueue) LinkArtifact(context.Context, string, string) error                { return nil }
func (q *handlerQueue) IsCancelled(context.Context, string) (bool, error)                 { return false, nil }

var _ interfaces.QueueService = (*handlerQueue)(nil)

// handlerKernel answers every check the same way and records the last ask.
type handlerKernel struct {
	allow      bool
	lastAction string
	lastTarget *models.TargetAttributes
}

func (k *handlerKernel) HasPermission(_ context.Context, _ *models.Identity, _, action string, target *models.TargetAttributes) (bool, error) {
	k.lastAction = action
	k.lastTarget = target
	return k.allow, nil
}

func (k *handlerKernel) EffectiveRoles(context.Context, *models.Identity) ([]string, error) {
	return nil, nil
}

var _ interfaces.AuthKernel = (*handlerKernel)(nil)

type jobHandlerFixture struct {
	handler *JobHandler
	queue   *handlerQueue
	kernel  *handlerKernel
	broker  *progress.Broker
}

func newJobHandlerFixture(t *testing.T, jobs ...*models.Job) *jobHandlerFixture {
	t.Helper()
	logger := common.GetLogger()
	queue := &handlerQueue{jobs: make(map[string]*models.Job)}
	for _, job := range jobs {
		queue.jobs[job.JobID] = job
	}
	kernel := &handlerKernel{allow: true}
	broker := progress.NewBroker(logger)
	return &jobHandlerFixture{
		handler: NewJobHandler(queue, broker, kernel, &common.StreamingConfig{}, logger),
		queue:   queue,
		kernel:  kernel,
		broker:  broker,
	}
}

// jobRequest builds a request with the path id and an authenticated identity.
func jobRequest(method, target, jobID string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.SetPathValue("id", jobID)
	return r.WithContext(WithIdentity(r.Context(), &models.Identity{UserID: 1000, Username: "admin"}))
}

func TestGetJobHandler(t *testing.T) {
	f := newJobHandlerFixture(t, &models.Job{JobID: "job-1", UserID: 1000, Status: models.JobStatusRunning})

	rec := httptest.NewRecorder()
	f.handler.GetJobHandler(rec, jobRequest(http.MethodGet, "/jobs/job-1", "job-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Equal(t, "job-1", job.JobID)

	// Unknown id surfaces as 404
	rec = httptest.NewRecorder()
	f.handler.GetJobHandler(rec, jobRequest(http.MethodGet, "/jobs/nope", "nope"))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobHandlers_DeniedIs403(t *testing.T) {
	f := newJobHandlerFixture(t, &models.Job{JobID: "job-1", UserID: 2000})
	f.kernel.allow = false

	rec := httptest.NewRecorder()
	f.handler.GetJobHandler(rec, jobRequest(http.MethodGet, "/jobs/job-1", "job-1"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ListJobsHandler(rec, jobRequest(http.MethodGet, "/jobs", ""))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApproveAndCancelJobHandlers(t *testing.T) {
	f := newJobHandlerFixture(t, &models.Job{JobID: "job-1", UserID: 1000, Status: models.JobStatusAwaitingApproval})

	rec := httptest.NewRecorder()
	f.handler.ApproveJobHandler(rec, jobRequest(http.MethodPost, "/jobs/job-1/approve", "job-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"job-1"}, f.queue.approved)
	require.Equal(t, auth.ActionApprove, f.kernel.lastAction)

	rec = httptest.NewRecorder()
	f.handler.CancelJobHandler(rec, jobRequest(http.MethodPost, "/jobs/job-1/cancel", "job-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"job-1"}, f.queue.cancelled)
	require.Equal(t, auth.ActionCancel, f.kernel.lastAction)
}

func TestDeleteJobHandler_SystemJobUsesDistinctAction(t *testing.T) {
	f := newJobHandlerFixture(t,
		&models.Job{JobID: "job-user", UserID: 1000, Status: models.JobStatusCompleted},
		&models.Job{JobID: "job-sys", UserID: models.SystemUserID, IsSystemJob: true, Status: models.JobStatusCompleted},
	)

	rec := httptest.NewRecorder()
	f.handler.DeleteJobHandler(rec, jobRequest(http.MethodDelete, "/jobs/job-user", "job-user"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, auth.ActionDelete, f.kernel.lastAction)

	rec = httptest.NewRecorder()
	f.handler.DeleteJobHandler(rec, jobRequest(http.MethodDelete, "/jobs/job-sys", "job-sys"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, auth.ActionDeleteSystem, f.kernel.lastAction)
	require.True(t, f.kernel.lastTarget.IsSystem)
	require.Equal(t, []string{"job-user", "job-sys"}, f.queue.deleted)
}

func TestListJobsHandler_FilterMapping(t *testing.T) {
	f := newJobHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ListJobsHandler(rec, jobRequest(http.MethodGet,
		"/jobs?status=running&type=ingestion&limit=10&system=true", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.JobStatusRunning, f.queue.lastFilter.Status)
	require.Equal(t, models.JobTypeIngestion, f.queue.lastFilter.JobType)
	require.Equal(t, 10, f.queue.lastFilter.Limit)
	require.True(t, f.queue.lastFilter.SystemOnly)
	require.False(t, f.queue.lastFilter.UserOnly)

	rec = httptest.NewRecorder()
	f.handler.ListJobsHandler(rec, jobRequest(http.MethodGet, "/jobs?system=false", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.queue.lastFilter.UserOnly)
	require.Equal(t, 50, f.queue.lastFilter.Limit, "limit defaults when absent")
}

func TestStreamJobHandler_TerminalReplay(t *testing.T) {
	f := newJobHandlerFixture(t, &models.Job{
		JobID:  "job-done",
		UserID: 1000,
		Status: models.JobStatusCompleted,
		Result: &models.JobResult{Status: "success"},
	})

	rec := httptest.NewRecorder()
	f.handler.StreamJobHandler(rec, jobRequest(http.MethodGet, "/jobs/job-done/stream", "job-done"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "event: completed\n"), "terminal jobs replay their stored result: %q", body)
	require.Contains(t, body, `"success"`)
}

func TestStreamJobHandler_KeepaliveIsNamedEvent(t *testing.T) {
	logger := common.GetLogger()
	queue := &handlerQueue{jobs: map[string]*models.Job{
		"job-slow": {JobID: "job-slow", UserID: 1000, Status: models.JobStatusRunning},
	}}
	broker := progress.NewBroker(logger)
	handler := NewJobHandler(queue, broker, &handlerKernel{allow: true},
		&common.StreamingConfig{SSEKeepaliveSeconds: 1, SSEIdleTimeoutSeconds: 5}, logger)

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.StreamJobHandler(rec, jobRequest(http.MethodGet, "/jobs/job-slow/stream", "job-slow"))
	}()

	// Let at least one keepalive tick pass, then finish the job to close
	// the stream.
	time.Sleep(1500 * time.Millisecond)
	broker.Terminal("job-slow", models.JobStatusCompleted, &models.JobResult{Status: "success"}, "")
	<-done

	body := rec.Body.String()
	require.Contains(t, body, "event: keepalive\ndata: {\"timestamp\":", "keepalives are named events with a payload: %q", body)
	require.NotContains(t, body, ": keepalive\n\n", "keepalives must not be bare SSE comments")
	require.Contains(t, body, "event: completed\n")
}

func TestStreamJobHandler_FailedReplayCarriesError(t *testing.T) {
	f := newJobHandlerFixture(t, &models.Job{
		JobID:  "job-bad",
		UserID: 1000,
		Status: models.JobStatusFailed,
		Error:  "provider timeout",
	})

	rec := httptest.NewRecorder()
	f.handler.StreamJobHandler(rec, jobRequest(http.MethodGet, "/jobs/job-bad/stream", "job-bad"))
	body := rec.Body.String()
	require.Contains(t, body, "event: failed\n")
	require.Contains(t, body, "provider timeout")
}
