package interfaces

import (
	"context"

	"github.com/ternarybob/cognatio/internal/models"
)

// EmbedPurpose selects the prefix applied before embedding.
type EmbedPurpose string

const (
	EmbedQuery    EmbedPurpose = "query"
	EmbedDocument EmbedPurpose = "document"
)

// ConceptExtractor extracts candidate concepts and relationships from a
// chunk of text. Implementations handle provider retry and rate limiting
// internally; errors surfaced here are terminal for the chunk.
type ConceptExtractor interface {
	ExtractConcepts(ctx context.Context, chunkText, ontology string) (*models.ExtractionResult, error)
	ModelName() string
}

// EmbeddingService generates vector embeddings
type EmbeddingService interface {
	// Embed a batch of texts for the given purpose; the active profile's
	// prefix is applied per purpose before embedding
	Embed(ctx context.Context, texts []string, purpose EmbedPurpose) ([][]float32, error)

	// Get model information
	ModelName() string
	Dimension() int
}
