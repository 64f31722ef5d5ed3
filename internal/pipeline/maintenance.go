// -----------------------------------------------------------------------
// Maintenance executors - the system job types fed by the scheduler
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/artifacts"
	"github.com/ternarybob/cognatio/internal/graph"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/models"
)

// consolidationThreshold is the cosine similarity at which two vocabulary
// types are considered duplicates of each other.
const consolidationThreshold = 0.95

// Maintenance bundles the dependencies shared by the system job executors.
type Maintenance struct {
	graph     interfaces.GraphStore
	vocab     interfaces.VocabularyStore
	embedder  interfaces.EmbeddingService
	artifacts *artifacts.Store
	storage   interfaces.ArtifactStorage
	users     interfaces.AuthStorage
	blobs     interfaces.BlobStore
	epoch     *metrics.EpochService
	logger    arbor.ILogger
}

// NewMaintenance creates the shared state for the system executors.
func NewMaintenance(
	graphStore interfaces.GraphStore,
	vocab interfaces.VocabularyStore,
	embedder interfaces.EmbeddingService,
	artifactStore *artifacts.Store,
	artifactStorage interfaces.ArtifactStorage,
	users interfaces.AuthStorage,
	blobs interfaces.BlobStore,
	epoch *metrics.EpochService,
	logger arbor.ILogger,
) *Maintenance {
	return &Maintenance{
		graph:     graphStore,
		vocab:     vocab,
		embedder:  embedder,
		artifacts: artifactStore,
		storage:   artifactStorage,
		users:     users,
		blobs:     blobs,
		epoch:     epoch,
		logger:    logger,
	}
}

// Executors returns one JobExecutor per system job type for registration
// with the dispatcher.
func (m *Maintenance) Executors() []interfaces.JobExecutor {
	return []interfaces.JobExecutor{
		&categoryRefreshExecutor{m},
		&artifactCleanupExecutor{m},
		&projectionRefreshExecutor{m},
		&vocabConsolidationExecutor{m},
		&epistemicExecutor{m},
		&annealingExecutor{m},
		&embeddingRegenExecutor{m},
	}
}

// categoryRefreshExecutor recomputes the census counters and the composite
// graph change counter.
type categoryRefreshExecutor struct{ *Maintenance }

func (e *categoryRefreshExecutor) JobType() models.JobType { return models.JobTypeCategoryRefresh }

func (e *categoryRefreshExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	epoch, err := e.epoch.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return &models.JobResult{
		Status:  "success",
		Message: fmt.Sprintf("graph change counter refreshed to %d", epoch),
	}, nil
}

// artifactCleanupExecutor removes expired, superseded and orphaned
// artifacts plus stale temp blobs.
type artifactCleanupExecutor struct{ *Maintenance }

func (e *artifactCleanupExecutor) JobType() models.JobType { return models.JobTypeArtifactCleanup }

func (e *artifactCleanupExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	removed, err := e.artifacts.Cleanup(ctx, time.Now().UTC(), e.users.UserExists)
	if err != nil {
		return nil, err
	}
	if sweeper, ok := e.blobs.(interface {
		SweepTemp(context.Context, time.Time) (int, error)
	}); ok {
		swept, err := sweeper.SweepTemp(ctx, time.Now().UTC())
		if err != nil {
			e.logger.Warn().Err(err).Msg("Temp blob sweep failed")
		} else if swept > 0 {
			e.logger.Info().Int("swept", swept).Msg("Stale temp blobs removed")
		}
	}
	return &models.JobResult{
		Status:  "success",
		Message: fmt.Sprintf("%d artifacts removed", removed),
	}, nil
}

// projectionRefreshExecutor regenerates stale projection artifacts. The
// projection payload is the ontology's concept/relationship adjacency,
// rebuilt from the live graph.
type projectionRefreshExecutor struct{ *Maintenance }

func (e *projectionRefreshExecutor) JobType() models.JobType { return models.JobTypeProjectionRefresh }

func (e *projectionRefreshExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	current, err := e.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}
	projections, err := e.storage.ListArtifacts(ctx, models.ArtifactFilter{ArtifactType: models.ArtifactTypeProjection})
	if err != nil {
		return nil, err
	}

	refreshed := 0
	for _, p := range projections {
		if p.Superseded || p.GraphEpoch == current {
			continue
		}
		payload, err := e.buildProjection(ctx, p.Ontology)
		if err != nil {
			e.logger.Warn().Err(err).Str("artifact_id", p.ID).Msg("Projection rebuild failed")
			continue
		}
		if _, err := e.artifacts.ReplacePayload(ctx, p.ID, payload); err != nil {
			e.logger.Warn().Err(err).Str("artifact_id", p.ID).Msg("Projection replace failed")
			continue
		}
		refreshed++
	}

	return &models.JobResult{
		Status:  "success",
		Message: fmt.Sprintf("%d projections refreshed", refreshed),
	}, nil
}

// buildProjection serialises the concept/relationship view of an ontology.
func (m *Maintenance) buildProjection(ctx context.Context, ontology string) ([]byte, error) {
	data, err := m.graph.Export(ctx, ontology)
	if err != nil {
		return nil, err
	}
	type node struct {
		ConceptID string `json:"concept_id"`
		Label     string `json:"label"`
	}
	type edge struct {
		From string `json:"from"`
		To   string `json:"to"`
		Type string `json:"type"`
	}
	projection := struct {
		Ontology string `json:"ontology,omitempty"`
		Nodes    []node `json:"nodes"`
		Edges    []edge `json:"edges"`
	}{Ontology: ontology, Nodes: []node{}, Edges: []edge{}}
	for _, c := range data.Concepts {
		projection.Nodes = append(projection.Nodes, node{ConceptID: c.ConceptID, Label: c.Label})
	}
	for _, r := range data.Relationships {
		projection.Edges = append(projection.Edges, edge{From: r.FromConceptID, To: r.ToConceptID, Type: r.RelationshipType})
	}
	return json.Marshal(projection)
}

// vocabConsolidationExecutor deactivates near-duplicate vocabulary types.
// The older type wins; edges already written keep their labels.
type vocabConsolidationExecutor struct{ *Maintenance }

func (e *vocabConsolidationExecutor) JobType() models.JobType { return models.JobTypeVocabConsolidation }

func (e *vocabConsolidationExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	active, err := e.vocab.ListActiveTypes(ctx)
	if err != nil {
		return nil, err
	}

	deactivated := 0
	for i := range active {
		if !active[i].Active {
			continue
		}
		for j := i + 1; j < len(active); j++ {
			if !active[j].Active || len(active[i].Embedding) == 0 || len(active[j].Embedding) == 0 {
				continue
			}
			if graph.CosineSimilarity(active[i].Embedding, active[j].Embedding) < consolidationThreshold {
				continue
			}
			older, newer := active[i], active[j]
			if newer.CreatedAt.Before(older.CreatedAt) {
				older, newer = newer, older
			}
			newer.Active = false
			if err := e.vocab.StoreType(ctx, newer); err != nil {
				return nil, err
			}
			deactivated++
			e.logger.Info().
				Str("kept", older.TypeName).
				Str("deactivated", newer.TypeName).
				Msg("Duplicate vocabulary type consolidated")
		}
	}

	// Move the watermark so the launcher goes quiet until the vocabulary
	// changes again.
	counter, err := e.epoch.Get(ctx, models.MetricVocabularyChangeCounter)
	if err != nil {
		return nil, err
	}
	if err := e.epoch.Set(ctx, models.MetricLastBreathingEpoch, counter); err != nil {
		return nil, err
	}

	return &models.JobResult{
		Status:  "success",
		Message: fmt.Sprintf("%d duplicate types deactivated", deactivated),
	}, nil
}

// epistemicExecutor snapshots per-ontology graph statistics into a
// stats_snapshot artifact and advances the measurement watermark.
type epistemicExecutor struct{ *Maintenance }

func (e *epistemicExecutor) JobType() models.JobType { return models.JobTypeEpistemicRemeasure }

func (e *epistemicExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	counts, err := e.graph.Counts(ctx)
	if err != nil {
		return nil, err
	}
	ontologies, err := e.graph.ListOntologies(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := struct {
		MeasuredAt time.Time          `json:"measured_at"`
		Counts     models.GraphCounts `json:"counts"`
		Ontologies []string           `json:"ontologies"`
	}{MeasuredAt: time.Now().UTC(), Counts: counts, Ontologies: []string{}}
	for _, o := range ontologies {
		snapshot.Ontologies = append(snapshot.Ontologies, o.Name)
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	artifact, err := e.artifacts.Persist(ctx, &artifacts.PersistSpec{
		Type:           models.ArtifactTypeStatsSnapshot,
		Representation: "json",
		Name:           "Epistemic measurement",
		OwnerID:        0,
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}

	counter, err := e.epoch.Get(ctx, models.MetricVocabularyChangeCounter)
	if err != nil {
		return nil, err
	}
	if err := e.epoch.Set(ctx, models.MetricLastEpistemicMeasure, counter); err != nil {
		return nil, err
	}

	return &models.JobResult{
		Status:  "success",
		Message: fmt.Sprintf("measurement snapshot %s", artifact.ID),
	}, nil
}

// annealingExecutor marks projection artifacts of changed ontologies
// superseded so regeneration produces fresh layouts, then advances the
// annealing watermark.
type annealingExecutor struct{ *Maintenance }

func (e *annealingExecutor) JobType() models.JobType { return models.JobTypeOntologyAnnealing }

func (e *annealingExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	current, err := e.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}
	projections, err := e.storage.ListArtifacts(ctx, models.ArtifactFilter{ArtifactType: models.ArtifactTypeProjection})
	if err != nil {
		return nil, err
	}

	superseded := 0
	for _, p := range projections {
		if p.Superseded || p.GraphEpoch == current {
			continue
		}
		if err := e.artifacts.MarkSuperseded(ctx, p.ID); err != nil {
			e.logger.Warn().Err(err).Str("artifact_id", p.ID).Msg("Failed to supersede projection")
			continue
		}
		superseded++
	}

	if err := e.epoch.Set(ctx, models.MetricLastAnnealingEpoch, current); err != nil {
		return nil, err
	}

	return &models.JobResult{
		Status:  "success",
		Message: fmt.Sprintf("%d projections superseded for regeneration", superseded),
	}, nil
}

// embeddingRegenExecutor re-embeds concepts whose vectors do not match the
// active embedding profile dimension.
type embeddingRegenExecutor struct{ *Maintenance }

func (e *embeddingRegenExecutor) JobType() models.JobType {
	return models.JobTypeEmbeddingRegeneration
}

func (e *embeddingRegenExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	data, err := e.graph.Export(ctx, job.Ontology)
	if err != nil {
		return nil, err
	}

	want := e.embedder.Dimension()
	regenerated := 0
	for i := range data.Concepts {
		c := &data.Concepts[i]
		if len(c.Embedding) == want {
			continue
		}
		vectors, err := e.embedder.Embed(ctx, []string{conceptLabelText(c)}, interfaces.EmbedDocument)
		if err != nil {
			return nil, err
		}
		c.Embedding = vectors[0]
		if err := e.graph.UpsertConcept(ctx, c); err != nil {
			return nil, err
		}
		regenerated++
	}

	return &models.JobResult{
		Status:   "success",
		Ontology: job.Ontology,
		Message:  fmt.Sprintf("%d concept embeddings regenerated", regenerated),
	}, nil
}

func conceptLabelText(c *models.Concept) string {
	if c.Description != "" {
		return c.Label + ": " + c.Description
	}
	return c.Label
}
