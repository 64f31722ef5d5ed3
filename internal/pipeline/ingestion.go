// -----------------------------------------------------------------------
// Ingestion executor - chunk, extract, embed, match and upsert one
// document into the knowledge graph
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/artifacts"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/models"
)

// IngestionExecutor runs ingestion jobs. Every step is idempotent against
// the graph so a re-run after a crash or a forced re-ingest converges on
// the same state: sources are keyed by (document, paragraph), concepts are
// matched by embedding similarity, and edges are keyed by their normalised
// triple.
type IngestionExecutor struct {
	queue         interfaces.QueueService
	graph         interfaces.GraphStore
	vocabulary    *Vocabulary
	extractor     interfaces.ConceptExtractor
	embedder      interfaces.EmbeddingService
	artifacts     *artifacts.Store
	epoch         *metrics.EpochService
	chunker       *Chunker
	minSimilarity float64
	logger        arbor.ILogger
}

// NewIngestionExecutor wires the ingestion pipeline.
func NewIngestionExecutor(
	queue interfaces.QueueService,
	graph interfaces.GraphStore,
	vocabulary *Vocabulary,
	extractor interfaces.ConceptExtractor,
	embedder interfaces.EmbeddingService,
	artifactStore *artifacts.Store,
	epoch *metrics.EpochService,
	cfg *common.IngestionConfig,
	logger arbor.ILogger,
) *IngestionExecutor {
	minSimilarity := cfg.MinConceptSimilarity
	if minSimilarity <= 0 {
		minSimilarity = 0.85
	}
	return &IngestionExecutor{
		queue:         queue,
		graph:         graph,
		vocabulary:    vocabulary,
		extractor:     extractor,
		embedder:      embedder,
		artifacts:     artifactStore,
		epoch:         epoch,
		chunker:       NewChunker(cfg.ChunkSizeChars, cfg.ChunkOverlapChars),
		minSimilarity: minSimilarity,
		logger:        logger,
	}
}

// JobType identifies the job type this executor handles.
func (e *IngestionExecutor) JobType() models.JobType {
	return models.JobTypeIngestion
}

// Execute runs one ingestion job to completion.
func (e *IngestionExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	var data models.IngestionJobData
	if err := json.Unmarshal(job.JobData, &data); err != nil {
		return nil, common.Wrap(common.KindUnprocessable, "malformed ingestion job data", err)
	}
	if data.Ontology == "" {
		return nil, common.E(common.KindValidation, "ingestion job has no ontology")
	}

	contentHash := job.ContentHash
	if contentHash == "" {
		contentHash = common.ContentHash([]byte(data.Document))
	}

	// Pre-flight dedup against the graph itself. The queue already screened
	// against active and completed jobs; the document provenance node is the
	// ultimate source of truth and catches ingests that arrived through a
	// restored backup or a deleted job row.
	existing, err := e.graph.GetDocumentMetaByDedupKey(ctx, contentHash, data.Ontology)
	if err != nil {
		return nil, err
	}
	if existing != nil && !data.Force {
		e.logger.Info().
			Str("job_id", job.JobID).
			Str("document_id", contentHash).
			Msg("Document already ingested; skipping extraction")
		return &models.JobResult{
			Status:     "already_ingested",
			Ontology:   data.Ontology,
			Filename:   data.Filename,
			DocumentID: contentHash,
			Message:    "document already present in this ontology",
		}, nil
	}

	chunks := e.chunker.Split(data.Document)
	stats := &models.JobStats{}

	// An empty document completes as a no-op: no ontology node, no
	// provenance row, no epoch bump.
	if len(chunks) == 0 {
		e.publishProgress(ctx, job.JobID, "chunking", 100, 0, 0, stats)
		e.logger.Info().
			Str("job_id", job.JobID).
			Str("ontology", data.Ontology).
			Msg("Document produced no chunks; nothing to ingest")
		return &models.JobResult{
			Status:   "success",
			Stats:    stats,
			Ontology: data.Ontology,
			Filename: data.Filename,
			Message:  "document produced no chunks",
		}, nil
	}

	epoch, err := e.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := e.graph.EnsureOntology(ctx, data.Ontology, epoch); err != nil {
		return nil, err
	}

	e.publishProgress(ctx, job.JobID, "chunking", 0, 0, len(chunks), stats)

	for _, chunk := range chunks {
		// Cancellation is observed between chunks, never mid-chunk, so a
		// cancelled job leaves no half-written source.
		cancelled, err := e.queue.IsCancelled(ctx, job.JobID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			e.logger.Info().
				Str("job_id", job.JobID).
				Int("chunks_processed", stats.ChunksProcessed).
				Msg("Ingestion cancelled at chunk boundary")
			return nil, common.E(common.KindConflict, "job cancelled")
		}

		if err := e.processChunk(ctx, job, &data, contentHash, chunk, stats); err != nil {
			return nil, fmt.Errorf("chunk %d failed: %w", chunk.Index, err)
		}

		stats.ChunksProcessed++
		percent := stats.ChunksProcessed * 100 / len(chunks)
		e.publishProgress(ctx, job.JobID, "extracting", percent, stats.ChunksProcessed, len(chunks), stats)
	}

	// Finalise document provenance. This is the write that makes a later
	// ingest of the same bytes a dedup hit.
	meta := &models.DocumentMeta{
		DocumentID:  contentHash,
		Ontology:    data.Ontology,
		SourceCount: stats.SourcesCreated,
		Filename:    data.Filename,
		SourceType:  job.SourceMetadata.SourceType,
		FilePath:    job.SourceMetadata.SourcePath,
		Hostname:    job.SourceMetadata.Hostname,
		IngestedAt:  time.Now().UTC(),
		IngestedBy:  job.UserID,
		JobID:       job.JobID,
	}
	if err := e.graph.UpsertDocumentMeta(ctx, meta); err != nil {
		return nil, err
	}

	if err := e.epoch.Increment(ctx, models.MetricDocumentIngestionCounter, 1); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to bump document ingestion counter")
	}
	if _, err := e.epoch.Refresh(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Epoch refresh after ingestion failed")
	}

	result := &models.JobResult{
		Status:          "success",
		Stats:           stats,
		Ontology:        data.Ontology,
		Filename:        data.Filename,
		ChunksProcessed: stats.ChunksProcessed,
		DocumentID:      contentHash,
	}

	// The report is stamped with the refreshed epoch, so it is born fresh.
	if err := e.emitReport(ctx, job, result); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist ingestion report")
	}

	e.logger.Info().
		Str("job_id", job.JobID).
		Str("ontology", data.Ontology).
		Int("chunks", stats.ChunksProcessed).
		Int("concepts_created", stats.ConceptsCreated).
		Int("concepts_linked", stats.ConceptsLinked).
		Int("relationships", stats.RelationshipsCreated).
		Msg("Document ingested")

	return result, nil
}

// processChunk runs extract -> embed -> match -> upsert for one chunk.
func (e *IngestionExecutor) processChunk(ctx context.Context, job *models.Job, data *models.IngestionJobData, contentHash string, chunk Chunk, stats *models.JobStats) error {
	extraction, err := e.extractor.ExtractConcepts(ctx, chunk.Text, data.Ontology)
	if err != nil {
		return err
	}
	stats.ExtractionTokens += extraction.InputTokens + extraction.OutputTokens

	// The source row is keyed deterministically by (document, paragraph) so
	// forced re-ingests and crash re-runs overwrite rather than duplicate.
	source := &models.Source{
		SourceID:    sourceID(contentHash, chunk.Index),
		Document:    contentHash,
		Paragraph:   chunk.Index,
		FullText:    chunk.Text,
		ContentHash: common.ContentHash([]byte(chunk.Text)),
		ContentType: "text/plain",
		Ontology:    data.Ontology,
		CreatedAt:   time.Now().UTC(),
	}

	sourceVectors, err := e.embedder.Embed(ctx, []string{chunk.Text}, interfaces.EmbedDocument)
	if err != nil {
		return err
	}
	source.Embedding = sourceVectors[0]
	if err := e.graph.UpsertSource(ctx, source); err != nil {
		return err
	}
	stats.SourcesCreated++

	conceptIDs, err := e.resolveConcepts(ctx, extraction.Concepts, data.Ontology, source, stats)
	if err != nil {
		return err
	}

	return e.resolveRelationships(ctx, job, extraction.Relationships, conceptIDs, contentHash, stats)
}

// resolveConcepts matches each candidate against the graph and links or
// creates concepts, recording an evidence instance either way. Returns the
// label -> concept id map used for edge resolution.
func (e *IngestionExecutor) resolveConcepts(ctx context.Context, candidates []models.CandidateConcept, ontology string, source *models.Source, stats *models.JobStats) (map[string]string, error) {
	conceptIDs := make(map[string]string, len(candidates))
	if len(candidates) == 0 {
		return conceptIDs, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = conceptText(c)
	}
	vectors, err := e.embedder.Embed(ctx, texts, interfaces.EmbedDocument)
	if err != nil {
		return nil, err
	}

	for i, candidate := range candidates {
		embedding := vectors[i]

		matches, err := e.graph.SearchConcepts(ctx, embedding, ontology, e.minSimilarity, 1)
		if err != nil {
			return nil, err
		}

		var conceptID string
		if len(matches) > 0 {
			conceptID = matches[0].Concept.ConceptID
			stats.ConceptsLinked++
		} else {
			concept := &models.Concept{
				ConceptID:   common.NewConceptID(),
				Label:       candidate.Label,
				Description: candidate.Description,
				Embedding:   embedding,
				Ontology:    ontology,
				CreatedAt:   time.Now().UTC(),
			}
			if err := e.graph.UpsertConcept(ctx, concept); err != nil {
				return nil, err
			}
			conceptID = concept.ConceptID
			stats.ConceptsCreated++
		}
		conceptIDs[candidate.Label] = conceptID

		// Evidence instance, keyed by (concept, source) so re-runs converge
		instance := &models.Instance{
			InstanceID: instanceID(conceptID, source.SourceID),
			ConceptID:  conceptID,
			SourceID:   source.SourceID,
			Quote:      candidate.EvidenceQuote,
			CreatedAt:  time.Now().UTC(),
		}
		if err := e.graph.UpsertInstance(ctx, instance); err != nil {
			return nil, err
		}
		stats.InstancesCreated++
	}

	return conceptIDs, nil
}

// resolveRelationships maps candidate edges onto the canonical vocabulary
// and upserts them. Edges whose endpoints did not survive concept
// resolution, or whose type cannot be matched, are dropped.
func (e *IngestionExecutor) resolveRelationships(ctx context.Context, job *models.Job, candidates []models.CandidateRelationship, conceptIDs map[string]string, documentID string, stats *models.JobStats) error {
	for _, candidate := range candidates {
		fromID, okFrom := conceptIDs[candidate.FromLabel]
		toID, okTo := conceptIDs[candidate.ToLabel]
		if !okFrom || !okTo {
			continue
		}

		resolution, err := e.vocabulary.Resolve(ctx, candidate.RelationshipType, candidate.FromLabel, candidate.ToLabel, job.JobID)
		if err != nil {
			return err
		}
		if !resolution.Matched {
			continue
		}

		rel := &models.Relationship{
			ID:               models.RelationshipKey(fromID, toID, resolution.TypeName, resolution.Direction),
			FromConceptID:    fromID,
			ToConceptID:      toID,
			RelationshipType: resolution.TypeName,
			Direction:        resolution.Direction,
			CreatedAt:        time.Now().UTC(),
			CreatedBy:        job.UserID,
			Source:           models.ProvenanceLLMExtraction,
			JobID:            job.JobID,
			DocumentID:       documentID,
			Confidence:       candidate.Confidence,
		}
		if resolution.Direction == models.DirectionInward {
			// Inward types are stored as the outward edge in the other
			// direction; the key normalisation already swapped the id.
			rel.FromConceptID, rel.ToConceptID = toID, fromID
			rel.Direction = models.DirectionOutward
		}
		if err := e.graph.UpsertRelationship(ctx, rel); err != nil {
			return err
		}
		stats.RelationshipsCreated++
	}
	return nil
}

// emitReport registers the ingestion_report artifact and links it to the job.
func (e *IngestionExecutor) emitReport(ctx context.Context, job *models.Job, result *models.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	artifact, err := e.artifacts.Persist(ctx, &artifacts.PersistSpec{
		Type:           models.ArtifactTypeIngestionReport,
		Representation: "json",
		Name:           fmt.Sprintf("Ingestion report: %s", reportName(result)),
		OwnerID:        job.UserID,
		Payload:        payload,
		Ontology:       result.Ontology,
	})
	if err != nil {
		return err
	}

	return e.queue.LinkArtifact(ctx, job.JobID, artifact.ID)
}

func (e *IngestionExecutor) publishProgress(ctx context.Context, jobID, stage string, percent, processed, total int, stats *models.JobStats) {
	snapshot := &models.JobProgress{
		Stage:           stage,
		Percent:         percent,
		ChunksProcessed: processed,
		ChunksTotal:     total,
		ConceptsCreated: stats.ConceptsCreated,
		SourcesCreated:  stats.SourcesCreated,
	}
	if err := e.queue.UpdateProgress(ctx, jobID, snapshot); err != nil {
		e.logger.Trace().Err(err).Str("job_id", jobID).Msg("Progress update failed")
	}
}

// conceptText is the embedding input for a candidate: label plus description
// when present, matching how stored concept embeddings were produced.
func conceptText(c models.CandidateConcept) string {
	if c.Description != "" {
		return c.Label + " — " + c.Description
	}
	return c.Label
}

func reportName(result *models.JobResult) string {
	if result.Filename != "" {
		return result.Filename
	}
	return result.DocumentID
}

// sourceID derives the deterministic source key for a document chunk.
func sourceID(documentID string, paragraph int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d", documentID, paragraph))
	return "src_" + hex.EncodeToString(sum[:16])
}

// instanceID derives the deterministic evidence key for a concept/source pair.
func instanceID(conceptID, srcID string) string {
	sum := sha256.Sum256([]byte(conceptID + "|" + srcID))
	return "inst_" + hex.EncodeToString(sum[:16])
}

// Compile-time interface check
var _ interfaces.JobExecutor = (*IngestionExecutor)(nil)
