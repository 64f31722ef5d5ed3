package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/graph"
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
	return graph.NewBadgerGraph(db, logger)
}

// seedGraph writes a small consistent graph: two concepts, one source with
// an instance, and an edge between the concepts.
func seedGraph(t *testing.T, g interfaces.GraphStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := g.EnsureOntology(ctx, "military", 0)
	require.NoError(t, err)

	require.NoError(t, g.UpsertConcept(ctx, &models.Concept{
		ConceptID: "con_alpha", Label: "alpha", Ontology: "military", CreatedAt: now,
	}))
	require.NoError(t, g.UpsertConcept(ctx, &models.Concept{
		ConceptID: "con_beta", Label: "beta", Ontology: "military", CreatedAt: now,
	}))
	require.NoError(t, g.UpsertSource(ctx, &models.Source{
		SourceID: "src_1", Document: "sha256:doc", Paragraph: 0,
		FullText: "alpha precedes beta", Ontology: "military", CreatedAt: now,
	}))
	require.NoError(t, g.UpsertInstance(ctx, &models.Instance{
		InstanceID: "inst_1", ConceptID: "con_alpha", SourceID: "src_1",
		Quote: "alpha precedes beta", CreatedAt: now,
	}))
	require.NoError(t, g.UpsertRelationship(ctx, &models.Relationship{
		ID:            models.RelationshipKey("con_alpha", "con_beta", "precedes", models.DirectionOutward),
		FromConceptID: "con_alpha", ToConceptID: "con_beta",
		RelationshipType: "precedes", Direction: models.DirectionOutward,
		Source: models.ProvenanceLLMExtraction, Confidence: 0.9, CreatedAt: now,
	}))
}

func TestExportParseApply_RoundTrip(t *testing.T) {
	source := newTestGraph(t)
	seedGraph(t, source)
	svc := NewService(source, common.GetLogger())
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, svc.WriteTo(ctx, &buf, ""))

	parsed, err := svc.Parse(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, models.BackupFull, parsed.Type)
	require.Equal(t, models.CurrentSchemaVersion, parsed.SchemaVersion)
	require.Equal(t, 2, parsed.Statistics.ConceptCount)
	require.Equal(t, 1, parsed.Statistics.RelationshipCount)
	require.NoError(t, svc.Validate(parsed))

	// Apply into an empty graph and compare the census
	target := newTestGraph(t)
	targetSvc := NewService(target, common.GetLogger())
	require.NoError(t, targetSvc.Apply(ctx, parsed))

	want, err := source.Counts(ctx)
	require.NoError(t, err)
	got, err := target.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestExport_PartialScopesOntology(t *testing.T) {
	g := newTestGraph(t)
	seedGraph(t, g)
	svc := NewService(g, common.GetLogger())

	backup, err := svc.Export(context.Background(), "military")
	require.NoError(t, err)
	require.Equal(t, models.BackupPartial, backup.Type)
	require.Equal(t, "military", backup.Ontology)
	require.Equal(t, 2, backup.Statistics.ConceptCount)
}

func TestApply_FullReplacesExistingGraph(t *testing.T) {
	g := newTestGraph(t)
	seedGraph(t, g)
	svc := NewService(g, common.GetLogger())
	ctx := context.Background()

	empty := &models.Backup{
		Version:       models.BackupVersion,
		SchemaVersion: models.CurrentSchemaVersion,
		Type:          models.BackupFull,
		Timestamp:     time.Now().UTC(),
	}
	require.NoError(t, svc.Apply(ctx, empty))

	counts, err := g.Counts(ctx)
	require.NoError(t, err)
	require.Zero(t, counts.Concepts, "a full restore replaces the live graph")
}

func TestParse_Rejections(t *testing.T) {
	svc := NewService(newTestGraph(t), common.GetLogger())

	tests := []struct {
		name string
		data string
	}{
		{"not json", "this is not json"},
		{"missing metadata", `{"type":"full_backup","data":{}}`},
		{"newer schema", `{"version":"1.0","schema_version":99,"type":"full_backup","data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Parse([]byte(tt.data))
			require.Error(t, err)
			require.True(t, common.IsKind(err, common.KindUnprocessable))
		})
	}
}

func TestParse_ConvertsV1Forward(t *testing.T) {
	svc := NewService(newTestGraph(t), common.GetLogger())
	now := time.Now().UTC()

	// A v1 dump: denormalised inward edge plus its outward mirror, and
	// ontology carried only as strings on the nodes.
	v1 := &models.Backup{
		Version:       models.BackupVersion,
		SchemaVersion: 1,
		Type:          models.BackupFull,
		Timestamp:     now,
		Data: models.BackupData{
			Concepts: []models.Concept{
				{ConceptID: "con_a", Label: "a", Ontology: "naval", CreatedAt: now},
				{ConceptID: "con_b", Label: "b", Ontology: "naval", CreatedAt: now},
			},
			Relationships: []models.Relationship{
				{ID: "legacy-1", FromConceptID: "con_b", ToConceptID: "con_a",
					RelationshipType: "precedes", Direction: models.DirectionInward, Confidence: 0.6},
				{ID: "legacy-2", FromConceptID: "con_a", ToConceptID: "con_b",
					RelationshipType: "precedes", Direction: models.DirectionOutward, Confidence: 0.9},
			},
		},
	}
	raw, err := json.Marshal(v1)
	require.NoError(t, err)

	parsed, err := svc.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, models.CurrentSchemaVersion, parsed.SchemaVersion)

	// The inward edge normalises onto the same triple as its mirror; the
	// higher-confidence row wins.
	require.Len(t, parsed.Data.Relationships, 1)
	rel := parsed.Data.Relationships[0]
	require.Equal(t, "con_a", rel.FromConceptID)
	require.Equal(t, "con_b", rel.ToConceptID)
	require.Equal(t, models.DirectionOutward, rel.Direction)
	require.Equal(t, 0.9, rel.Confidence)
	require.Equal(t, models.RelationshipKey("con_a", "con_b", "precedes", models.DirectionOutward), rel.ID)

	// v2 -> v3 synthesised the ontology node from the concept strings
	require.Len(t, parsed.Data.Ontologies, 1)
	require.Equal(t, "naval", parsed.Data.Ontologies[0].Name)
	require.Equal(t, models.OntologyActive, parsed.Data.Ontologies[0].LifecycleState)
}

func TestConvertV2toV3_Deterministic(t *testing.T) {
	build := func() *models.Backup {
		return &models.Backup{
			Timestamp: time.Unix(1700000000, 0).UTC(),
			Data: models.BackupData{
				Concepts: []models.Concept{
					{ConceptID: "c1", Ontology: "zulu"},
					{ConceptID: "c2", Ontology: "alpha"},
				},
				Sources: []models.Source{{SourceID: "s1", Ontology: "mike"}},
			},
		}
	}

	first, second := build(), build()
	require.NoError(t, convertV2toV3(first))
	require.NoError(t, convertV2toV3(second))
	require.Equal(t, first.Data.Ontologies, second.Data.Ontologies)

	names := make([]string, 0, 3)
	for _, o := range first.Data.Ontologies {
		names = append(names, o.Name)
	}
	require.Equal(t, []string{"alpha", "mike", "zulu"}, names)

	// Dumps that already carry ontology nodes are left alone
	existing := &models.Backup{Data: models.BackupData{
		Ontologies: []models.Ontology{{OntologyID: "ont_x", Name: "x"}},
		Concepts:   []models.Concept{{ConceptID: "c1", Ontology: "y"}},
	}}
	require.NoError(t, convertV2toV3(existing))
	require.Len(t, existing.Data.Ontologies, 1)
}

func TestValidate_ReferentialIntegrity(t *testing.T) {
	svc := NewService(newTestGraph(t), common.GetLogger())

	full := &models.Backup{
		Type: models.BackupFull,
		Data: models.BackupData{
			Concepts:  []models.Concept{{ConceptID: "con_a"}},
			Sources:   []models.Source{{SourceID: "src_1"}},
			Instances: []models.Instance{{InstanceID: "inst_1", ConceptID: "con_missing", SourceID: "src_1"}},
		},
	}
	err := svc.Validate(full)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindIntegrity))

	// Dangling relationship endpoint
	full.Data.Instances = nil
	full.Data.Relationships = []models.Relationship{
		{ID: "r1", FromConceptID: "con_a", ToConceptID: "con_missing", RelationshipType: "precedes"},
	}
	err = svc.Validate(full)
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.KindIntegrity))

	// Partial dumps may resolve endpoints against the live graph at apply time
	full.Type = models.BackupPartial
	require.NoError(t, svc.Validate(full))
}
