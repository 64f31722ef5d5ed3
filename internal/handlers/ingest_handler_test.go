package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/pipeline"
)

type ingestHandlerFixture struct {
	handler *IngestHandler
	queue   *handlerQueue
	kernel  *handlerKernel
}

func newIngestHandlerFixture(t *testing.T) *ingestHandlerFixture {
	t.Helper()
	queue := &handlerQueue{jobs: make(map[string]*models.Job)}
	kernel := &handlerKernel{allow: true}
	analyzer := pipeline.NewAnalyzer(pipeline.NewChunker(2000, 200))
	return &ingestHandlerFixture{
		handler: NewIngestHandler(queue, analyzer, kernel, 10<<20, common.GetLogger()),
		queue:   queue,
		kernel:  kernel,
	}
}

func authedJSONRequest(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r.WithContext(WithIdentity(r.Context(), &models.Identity{UserID: 1000, Username: "admin"}))
}

func TestIngestHandler_JSONSubmission(t *testing.T) {
	f := newIngestHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.handler.IngestHandler(rec, authedJSONRequest("/ingest",
		`{"document":"Smoking causes cancer.","ontology":"health","filename":"notes.txt",
		  "processing_mode":"parallel",
		  "source_metadata":{"source_type":"file","source_path":"/data/notes.txt","hostname":"workstation-7"}}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	spec := f.queue.lastSpec
	require.NotNil(t, spec)
	require.Equal(t, models.JobTypeIngestion, spec.JobType)
	require.Equal(t, "health", spec.Ontology)
	require.Equal(t, int64(1000), spec.UserID)
	require.Equal(t, models.JobSourceUserAPI, spec.Source)
	require.Equal(t, models.ProcessingModeParallel, spec.ProcessingMode)
	require.Equal(t, common.ContentHash([]byte("Smoking causes cancer.")), spec.ContentHash)
	require.NotNil(t, spec.Analysis, "submission carries the cost estimate")
	require.Equal(t, "notes.txt", spec.SourceMetadata.Filename)
	require.Equal(t, "file", spec.SourceMetadata.SourceType)
	require.Equal(t, "/data/notes.txt", spec.SourceMetadata.SourcePath)
	require.Equal(t, "workstation-7", spec.SourceMetadata.Hostname)
}

func TestIngestHandler_QueuedStatusIs201(t *testing.T) {
	f := newIngestHandlerFixture(t)
	f.queue.outcome = &models.EnqueueOutcome{JobID: "job-q", Status: models.JobStatusQueued}

	rec := httptest.NewRecorder()
	f.handler.IngestHandler(rec, authedJSONRequest("/ingest",
		`{"document":"Alpha. Beta. Gamma.","ontology":"T1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"queued"`)

	f.queue.outcome = &models.EnqueueOutcome{JobID: "job-a", Status: models.JobStatusAwaitingApproval}
	rec = httptest.NewRecorder()
	f.handler.IngestHandler(rec, authedJSONRequest("/ingest",
		`{"document":"Alpha. Beta. Gamma.","ontology":"T1"}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"awaiting_approval"`)
}

func TestIngestHandler_EmptyDocumentIsAccepted(t *testing.T) {
	f := newIngestHandlerFixture(t)

	rec := httptest.NewRecorder()
	f.handler.IngestHandler(rec, authedJSONRequest("/ingest",
		`{"document":"","ontology":"health"}`))
	require.Equal(t, http.StatusCreated, rec.Code, "empty documents complete as no-ops, they are not rejected")
	require.NotNil(t, f.queue.lastSpec)
}

func TestIngestHandler_DuplicateIs200(t *testing.T) {
	f := newIngestHandlerFixture(t)
	f.queue.outcome = &models.EnqueueOutcome{
		JobID: "", Status: models.JobStatusCompleted, Duplicate: true, ExistingJobID: "job-old",
	}

	rec := httptest.NewRecorder()
	f.handler.IngestHandler(rec, authedJSONRequest("/ingest",
		`{"document":"Same bytes.","ontology":"health"}`))
	require.Equal(t, http.StatusOK, rec.Code, "duplicates report the existing job instead of accepting new work")
	require.Contains(t, rec.Body.String(), "job-old")
}

func TestIngestHandler_Validation(t *testing.T) {
	f := newIngestHandlerFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing ontology", `{"document":"text"}`},
		{"malformed body", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			f.handler.IngestHandler(rec, authedJSONRequest("/ingest", tt.body))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	require.Nil(t, f.queue.lastSpec, "invalid submissions never reach the queue")
}

func TestIngestHandler_Denied(t *testing.T) {
	f := newIngestHandlerFixture(t)
	f.kernel.allow = false

	rec := httptest.NewRecorder()
	f.handler.IngestHandler(rec, authedJSONRequest("/ingest",
		`{"document":"text","ontology":"health"}`))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIngestHandler_MultipartUpload(t *testing.T) {
	f := newIngestHandlerFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "doctrine.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("Sea control enables power projection."))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("ontology", "military"))
	require.NoError(t, mw.WriteField("force", "true"))
	require.NoError(t, mw.WriteField("processing_mode", "parallel"))
	require.NoError(t, mw.WriteField("source_metadata",
		`{"source_type":"file","source_path":"/docs/doctrine.txt","hostname":"carrier-ops"}`))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r = r.WithContext(WithIdentity(r.Context(), &models.Identity{UserID: 1000}))

	rec := httptest.NewRecorder()
	f.handler.IngestHandler(rec, r)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	spec := f.queue.lastSpec
	require.NotNil(t, spec)
	require.Equal(t, "military", spec.Ontology)
	require.True(t, spec.Force)
	require.Equal(t, models.ProcessingModeParallel, spec.ProcessingMode)
	require.Equal(t, "doctrine.txt", spec.SourceMetadata.Filename)
	require.Equal(t, "file", spec.SourceMetadata.SourceType)
	require.Equal(t, "/docs/doctrine.txt", spec.SourceMetadata.SourcePath)
	require.Equal(t, "carrier-ops", spec.SourceMetadata.Hostname)
}
