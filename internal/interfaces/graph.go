package interfaces

import (
	"context"

	"github.com/ternarybob/cognatio/internal/models"
)

// GraphStore is the graph facade consumed by the ingestion pipeline, the
// backup service and the artifact store. The store owns vector storage and
// similarity search; callers only ask for matches above a threshold.
type GraphStore interface {
	// Concept operations
	UpsertConcept(ctx context.Context, concept *models.Concept) error
	GetConcept(ctx context.Context, conceptID string) (*models.Concept, error)
	SearchConcepts(ctx context.Context, embedding []float32, ontology string, minSimilarity float64, limit int) ([]*models.ConceptMatch, error)

	// Source operations
	UpsertSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, sourceID string) (*models.Source, error)

	// Instance operations
	UpsertInstance(ctx context.Context, instance *models.Instance) error

	// Relationship operations (edge identity is the normalised triple)
	UpsertRelationship(ctx context.Context, rel *models.Relationship) error
	ListRelationshipTypes(ctx context.Context) ([]string, error)

	// Document provenance
	UpsertDocumentMeta(ctx context.Context, meta *models.DocumentMeta) error
	GetDocumentMeta(ctx context.Context, contentHash string) (*models.DocumentMeta, error)
	GetDocumentMetaByDedupKey(ctx context.Context, contentHash, ontology string) (*models.DocumentMeta, error)

	// Ontology operations
	EnsureOntology(ctx context.Context, name string, creationEpoch int64) (*models.Ontology, error)
	GetOntology(ctx context.Context, name string) (*models.Ontology, error)
	ListOntologies(ctx context.Context) ([]*models.Ontology, error)

	// Census for the epoch refresh and integrity checks
	Counts(ctx context.Context) (models.GraphCounts, error)

	// Backup export/import
	Export(ctx context.Context, ontology string) (*models.BackupData, error)
	Import(ctx context.Context, data *models.BackupData) error
	Clear(ctx context.Context) error
}

// VocabularyStore manages the controlled relationship type vocabulary.
type VocabularyStore interface {
	GetType(ctx context.Context, name string) (*models.VocabularyType, error)
	ListActiveTypes(ctx context.Context) ([]*models.VocabularyType, error)
	StoreType(ctx context.Context, t *models.VocabularyType) error
	LogSkipped(ctx context.Context, skipped *models.SkippedRelationship) error
}
