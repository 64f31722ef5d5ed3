package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	badgerstore "github.com/ternarybob/cognatio/internal/storage/badger"
)

func newTestGraph(t *testing.T) interfaces.GraphStore {
	t.Helper()
	logger := common.GetLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBadgerGraph(db, logger)
}

func storeConcept(t *testing.T, g interfaces.GraphStore, id, ontology string, embedding []float32, createdAt time.Time) {
	t.Helper()
	require.NoError(t, g.UpsertConcept(context.Background(), &models.Concept{
		ConceptID: id, Label: id, Ontology: ontology, Embedding: embedding, CreatedAt: createdAt,
	}))
}

func TestSearchConcepts(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	storeConcept(t, g, "con_exact", "military", []float32{1, 0, 0}, now)
	storeConcept(t, g, "con_near", "military", []float32{0.9, 0.4359, 0}, now)
	storeConcept(t, g, "con_far", "military", []float32{0, 1, 0}, now)
	storeConcept(t, g, "con_other_ont", "naval", []float32{1, 0, 0}, now)
	storeConcept(t, g, "con_no_embedding", "military", nil, now)

	matches, err := g.SearchConcepts(ctx, []float32{1, 0, 0}, "military", 0.85, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "con_exact", matches[0].Concept.ConceptID, "highest similarity first")
	require.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	require.Equal(t, "con_near", matches[1].Concept.ConceptID)

	// Ontology scoping: the identical embedding in another ontology is invisible
	for _, m := range matches {
		require.Equal(t, "military", m.Concept.Ontology)
	}

	// Limit truncates after sorting
	matches, err = g.SearchConcepts(ctx, []float32{1, 0, 0}, "military", 0.85, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "con_exact", matches[0].Concept.ConceptID)

	// A stricter threshold drops the near match and keeps the exact one
	matches, err = g.SearchConcepts(ctx, []float32{1, 0, 0}, "military", 0.999, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestSearchConcepts_EmptyOntologySearchesAll(t *testing.T) {
	g := newTestGraph(t)
	now := time.Now().UTC()

	storeConcept(t, g, "con_military", "military", []float32{1, 0, 0}, now)
	storeConcept(t, g, "con_naval", "naval", []float32{1, 0, 0}, now.Add(time.Minute))

	matches, err := g.SearchConcepts(context.Background(), []float32{1, 0, 0}, "", 0.85, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2, "no ontology filter means every ontology is searched")
	require.Equal(t, "con_military", matches[0].Concept.ConceptID)
	require.Equal(t, "con_naval", matches[1].Concept.ConceptID)
}

func TestSearchConcepts_TieBreaksOnOldest(t *testing.T) {
	g := newTestGraph(t)
	now := time.Now().UTC()

	storeConcept(t, g, "con_newer", "test", []float32{1, 0, 0}, now)
	storeConcept(t, g, "con_older", "test", []float32{1, 0, 0}, now.Add(-time.Hour))

	matches, err := g.SearchConcepts(context.Background(), []float32{1, 0, 0}, "test", 0.85, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "con_older", matches[0].Concept.ConceptID,
		"equal similarity must resolve to the older concept so re-ingests converge")
}

func TestGetConcept_NotFound(t *testing.T) {
	g := newTestGraph(t)
	_, err := g.GetConcept(context.Background(), "con_missing")
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindNotFound))
}

func TestEnsureOntology_Idempotent(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	first, err := g.EnsureOntology(ctx, "military", 7)
	require.NoError(t, err)
	require.Equal(t, "ont_military", first.OntologyID)
	require.Equal(t, models.OntologyActive, first.LifecycleState)
	require.Equal(t, int64(7), first.CreationEpoch)

	// A second ensure returns the existing node and keeps its epoch
	second, err := g.EnsureOntology(ctx, "military", 99)
	require.NoError(t, err)
	require.Equal(t, first.OntologyID, second.OntologyID)
	require.Equal(t, int64(7), second.CreationEpoch)

	counts, err := g.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Ontologies)
}

func TestGetDocumentMetaByDedupKey(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.UpsertDocumentMeta(ctx, &models.DocumentMeta{
		DocumentID: "sha256:abc", Ontology: "military", SourceCount: 3, IngestedAt: time.Now().UTC(),
	}))

	meta, err := g.GetDocumentMetaByDedupKey(ctx, "sha256:abc", "military")
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, 3, meta.SourceCount)

	// Same bytes in a different ontology is not a duplicate
	meta, err = g.GetDocumentMetaByDedupKey(ctx, "sha256:abc", "naval")
	require.NoError(t, err)
	require.Nil(t, meta)

	// Absence is nil, not an error, so callers can branch without unwrapping
	meta, err = g.GetDocumentMetaByDedupKey(ctx, "sha256:unknown", "military")
	require.NoError(t, err)
	require.Nil(t, meta)
}

func TestExportImportClear(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := g.EnsureOntology(ctx, "military", 0)
	require.NoError(t, err)
	storeConcept(t, g, "con_a", "military", []float32{1, 0, 0}, now)
	storeConcept(t, g, "con_b", "military", []float32{0, 1, 0}, now)
	require.NoError(t, g.UpsertSource(ctx, &models.Source{
		SourceID: "src_1", Document: "sha256:doc", FullText: "text", Ontology: "military", CreatedAt: now,
	}))
	require.NoError(t, g.UpsertInstance(ctx, &models.Instance{
		InstanceID: "inst_1", ConceptID: "con_a", SourceID: "src_1", CreatedAt: now,
	}))
	require.NoError(t, g.UpsertRelationship(ctx, &models.Relationship{
		ID:            models.RelationshipKey("con_a", "con_b", "precedes", models.DirectionOutward),
		FromConceptID: "con_a", ToConceptID: "con_b",
		RelationshipType: "precedes", Direction: models.DirectionOutward, CreatedAt: now,
	}))

	data, err := g.Export(ctx, "")
	require.NoError(t, err)
	require.Len(t, data.Concepts, 2)
	require.Len(t, data.Sources, 1)
	require.Len(t, data.Instances, 1)
	require.Len(t, data.Relationships, 1)
	require.Len(t, data.Ontologies, 1)

	require.NoError(t, g.Clear(ctx))
	counts, err := g.Counts(ctx)
	require.NoError(t, err)
	require.Zero(t, counts.Total())

	require.NoError(t, g.Import(ctx, data))
	counts, err = g.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts.Concepts)
	require.Equal(t, int64(1), counts.Sources)
	require.Equal(t, int64(1), counts.Instances)
	require.Equal(t, int64(1), counts.Relationships)
	require.Equal(t, int64(1), counts.Ontologies)
}

func TestUpsertRelationship_SameTripleConverges(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()

	key := models.RelationshipKey("con_a", "con_b", "precedes", models.DirectionOutward)
	for i := 0; i < 3; i++ {
		require.NoError(t, g.UpsertRelationship(ctx, &models.Relationship{
			ID: key, FromConceptID: "con_a", ToConceptID: "con_b",
			RelationshipType: "precedes", Direction: models.DirectionOutward,
			Confidence: 0.5 + float64(i)*0.1, CreatedAt: now,
		}))
	}

	counts, err := g.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Relationships, "re-upserting the same triple must not duplicate the edge")
}
