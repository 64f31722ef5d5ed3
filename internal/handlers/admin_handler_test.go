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
	"github.com/ternarybob/cognatio/internal/backup"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/graph"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	badgerstore "github.com/ternarybob/cognatio/internal/storage/badger"
	"github.com/ternarybob/cognatio/internal/storage/blob"
)

type adminHandlerFixture struct {
	handler   *AdminHandler
	graph     interfaces.GraphStore
	scheduled interfaces.ScheduledJobStorage
	queue     *handlerQueue
	kernel    *handlerKernel
}

func newAdminHandlerFixture(t *testing.T) *adminHandlerFixture {
	t.Helper()
	logger := common.GetLogger()

	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewFileStore(logger, &common.BlobConfig{Path: t.TempDir()})
	require.NoError(t, err)

	g := graph.NewBadgerGraph(db, logger)
	scheduled := badgerstore.NewScheduledJobStorage(db, logger)
	queue := &handlerQueue{jobs: make(map[string]*models.Job)}
	kernel := &handlerKernel{allow: true}

	return &adminHandlerFixture{
		handler:   NewAdminHandler(backup.NewService(g, logger), queue, blobs, scheduled, kernel, 10<<20, logger),
		graph:     g,
		scheduled: scheduled,
		queue:     queue,
		kernel:    kernel,
	}
}

func adminRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(WithIdentity(r.Context(), &models.Identity{UserID: 1000, Username: "admin"}))
}

func TestBackupDownloadHandler(t *testing.T) {
	f := newAdminHandlerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.graph.UpsertConcept(ctx, &models.Concept{
		ConceptID: "con_a", Label: "a", Ontology: "military", CreatedAt: time.Now().UTC(),
	}))

	rec := httptest.NewRecorder()
	f.handler.BackupDownloadHandler(rec, adminRequest(http.MethodGet, "/admin/backup", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	var dump models.Backup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dump))
	require.Equal(t, models.BackupFull, dump.Type)
	require.Equal(t, models.CurrentSchemaVersion, dump.SchemaVersion)
	require.Len(t, dump.Data.Concepts, 1)
}

func TestBackupJobHandler_Enqueues(t *testing.T) {
	f := newAdminHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.handler.BackupJobHandler(rec, adminRequest(http.MethodPost, "/admin/backup?ontology=military", ""))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, f.queue.lastSpec)
	require.Equal(t, models.JobTypeBackup, f.queue.lastSpec.JobType)
	require.Equal(t, "military", f.queue.lastSpec.Ontology)
}

func TestUpdateScheduledJobHandler(t *testing.T) {
	f := newAdminHandlerFixture(t)
	ctx := context.Background()
	next := time.Now().UTC().Add(time.Hour)
	require.NoError(t, f.scheduled.StoreScheduledJob(ctx, &models.ScheduledJob{
		Name: "artifact-cleanup", Launcher: "artifact-cleanup",
		ScheduleCron: "0 3 * * *", Enabled: false, MaxRetries: 3,
		RetryCount: 2, LastError: "provider down", NextRun: &next,
	}))

	req := adminRequest(http.MethodPatch, "/admin/scheduled/artifact-cleanup",
		`{"enabled":true,"schedule_cron":"*/30 * * * *"}`)
	req.SetPathValue("name", "artifact-cleanup")
	rec := httptest.NewRecorder()
	f.handler.UpdateScheduledJobHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	row, err := f.scheduled.GetScheduledJob(ctx, "artifact-cleanup")
	require.NoError(t, err)
	require.True(t, row.Enabled)
	require.Equal(t, "*/30 * * * *", row.ScheduleCron)
	require.Zero(t, row.RetryCount, "re-enabling resets the retry counter")
	require.Empty(t, row.LastError)
	require.Nil(t, row.NextRun, "a cron change clears next_run so the dispatcher reseeds it")
}

func TestUpdateScheduledJobHandler_RejectsBadCron(t *testing.T) {
	f := newAdminHandlerFixture(t)
	ctx := context.Background()
	require.NoError(t, f.scheduled.StoreScheduledJob(ctx, &models.ScheduledJob{
		Name: "artifact-cleanup", Launcher: "artifact-cleanup",
		ScheduleCron: "0 3 * * *", Enabled: true, MaxRetries: 3,
	}))

	req := adminRequest(http.MethodPatch, "/admin/scheduled/artifact-cleanup",
		`{"schedule_cron":"61 * * * *"}`)
	req.SetPathValue("name", "artifact-cleanup")
	rec := httptest.NewRecorder()
	f.handler.UpdateScheduledJobHandler(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	row, err := f.scheduled.GetScheduledJob(ctx, "artifact-cleanup")
	require.NoError(t, err)
	require.Equal(t, "0 3 * * *", row.ScheduleCron, "a rejected update must not change the row")
}

func TestListScheduledJobsHandler_Denied(t *testing.T) {
	f := newAdminHandlerFixture(t)
	f.kernel.allow = false

	rec := httptest.NewRecorder()
	f.handler.ListScheduledJobsHandler(rec, adminRequest(http.MethodGet, "/admin/scheduled", ""))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
