package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/ternarybob/cognatio/internal/pipeline"
)

// IngestHandler accepts document submissions and turns them into ingestion
// jobs. Submission never runs the pipeline inline; the response reports the
// queue outcome, including the duplicate short-circuit.
type IngestHandler struct {
	queue          interfaces.QueueService
	analyzer       *pipeline.Analyzer
	kernel         interfaces.AuthKernel
	maxUploadBytes int64
	logger         arbor.ILogger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(queue interfaces.QueueService, analyzer *pipeline.Analyzer, kernel interfaces.AuthKernel, maxUploadBytes int64, logger arbor.ILogger) *IngestHandler {
	return &IngestHandler{
		queue:          queue,
		analyzer:       analyzer,
		kernel:         kernel,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

type ingestRequest struct {
	Document       string                 `json:"document"`
	Ontology       string                 `json:"ontology"`
	Force          bool                   `json:"force"`
	Filename       string                 `json:"filename,omitempty"`
	ProcessingMode string                 `json:"processing_mode,omitempty"`
	SourceMetadata *models.SourceMetadata `json:"source_metadata,omitempty"`
}

// provenance merges client-supplied source metadata with defaults for
// direct API submission.
func (req *ingestRequest) provenance() models.SourceMetadata {
	meta := models.SourceMetadata{}
	if req.SourceMetadata != nil {
		meta = *req.SourceMetadata
	}
	if meta.Filename == "" {
		meta.Filename = req.Filename
	}
	if meta.SourceType == "" {
		meta.SourceType = "api"
	}
	return meta
}

// IngestHandler handles document submission
// POST /ingest (multipart file upload or JSON body)
func (h *IngestHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := IdentityFrom(ctx)

	allowed, err := h.kernel.HasPermission(ctx, identity, auth.ResourceJob, auth.ActionCreate, nil)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !allowed {
		WriteError(w, common.E(common.KindAuthorization, "not allowed to submit documents"))
		return
	}

	req, err := h.parseRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.Ontology == "" {
		WriteError(w, common.E(common.KindValidation, "ontology is required"))
		return
	}

	jobData, err := json.Marshal(models.IngestionJobData{
		Document: req.Document,
		Ontology: req.Ontology,
		Force:    req.Force,
		Filename: req.Filename,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	spec := &models.EnqueueSpec{
		JobType:        models.JobTypeIngestion,
		JobData:        jobData,
		ContentHash:    common.ContentHash([]byte(req.Document)),
		Ontology:       req.Ontology,
		UserID:         identity.UserID,
		Source:         models.JobSourceUserAPI,
		SourceMetadata: req.provenance(),
		ProcessingMode: models.ProcessingMode(req.ProcessingMode),
		Analysis:       h.analyzer.Analyze(req.Document),
		Force:          req.Force,
	}

	outcome, err := h.queue.Enqueue(ctx, spec)
	if err != nil {
		h.logger.Error().Err(err).Str("ontology", req.Ontology).Msg("Failed to enqueue ingestion")
		WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	WriteJSON(w, status, outcome)
}

// parseRequest accepts either a multipart upload (file + form fields) or a
// JSON body.
func (h *IngestHandler) parseRequest(r *http.Request) (*ingestRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			return nil, common.Wrap(common.KindValidation, "malformed multipart upload", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, common.Wrap(common.KindValidation, "missing file field", err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, common.Wrap(common.KindValidation, "failed to read upload", err)
		}
		force, _ := strconv.ParseBool(r.FormValue("force"))
		req := &ingestRequest{
			Document:       string(data),
			Ontology:       r.FormValue("ontology"),
			Force:          force,
			Filename:       header.Filename,
			ProcessingMode: r.FormValue("processing_mode"),
		}
		if raw := r.FormValue("source_metadata"); raw != "" {
			var meta models.SourceMetadata
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, common.Wrap(common.KindValidation, "malformed source_metadata", err)
			}
			req.SourceMetadata = &meta
		}
		return req, nil
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, common.Wrap(common.KindValidation, "malformed request body", err)
	}
	return &req, nil
}
