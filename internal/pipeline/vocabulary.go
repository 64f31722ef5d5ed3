// -----------------------------------------------------------------------
// Relationship type vocabulary - canonical edge labels with direction
// semantics and near-match substitution for extractor-proposed types
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/graph"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/models"
)

// Vocabulary resolves extractor-proposed relationship types against the
// active canonical set. Unknown types are substituted with the closest
// canonical type when the cached type embeddings are similar enough,
// otherwise logged to the skipped-relationships table and dropped.
type Vocabulary struct {
	store         interfaces.VocabularyStore
	embedder      interfaces.EmbeddingService
	epoch         *metrics.EpochService
	minSimilarity float64
	logger        arbor.ILogger
}

// NewVocabulary creates a vocabulary resolver.
func NewVocabulary(store interfaces.VocabularyStore, embedder interfaces.EmbeddingService, epoch *metrics.EpochService, minSimilarity float64, logger arbor.ILogger) *Vocabulary {
	if minSimilarity <= 0 {
		minSimilarity = 0.70
	}
	return &Vocabulary{
		store:         store,
		embedder:      embedder,
		epoch:         epoch,
		minSimilarity: minSimilarity,
		logger:        logger,
	}
}

// Resolution is the outcome of resolving one proposed type.
type Resolution struct {
	TypeName  string
	Direction models.RelationshipDirection
	Matched   bool
}

// Resolve maps a proposed relationship type onto the canonical vocabulary.
// Returns Matched=false when the type must be dropped; the skip has already
// been logged.
func (v *Vocabulary) Resolve(ctx context.Context, proposed, fromLabel, toLabel, jobID string) (*Resolution, error) {
	name := normalizeTypeName(proposed)
	if name == "" {
		return &Resolution{Matched: false}, nil
	}

	// Exact canonical hit
	t, err := v.store.GetType(ctx, name)
	if err == nil && t.Active {
		return &Resolution{TypeName: t.TypeName, Direction: direction(t), Matched: true}, nil
	}
	if err != nil && !common.IsKind(err, common.KindNotFound) {
		return nil, err
	}

	// Near-match substitution via cached type embeddings
	active, err := v.store.ListActiveTypes(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		vectors, err := v.embedder.Embed(ctx, []string{strings.ReplaceAll(name, "_", " ")}, interfaces.EmbedQuery)
		if err != nil {
			return nil, err
		}
		proposedVec := vectors[0]

		var best *models.VocabularyType
		bestSim := 0.0
		for _, candidate := range active {
			if len(candidate.Embedding) == 0 {
				continue
			}
			sim := graph.CosineSimilarity(proposedVec, candidate.Embedding)
			if sim > bestSim {
				bestSim = sim
				best = candidate
			}
		}
		if best != nil && bestSim >= v.minSimilarity {
			v.logger.Debug().
				Str("proposed", name).
				Str("substituted", best.TypeName).
				Msg("Relationship type substituted with canonical near-match")
			return &Resolution{TypeName: best.TypeName, Direction: direction(best), Matched: true}, nil
		}
	}

	skip := &models.SkippedRelationship{
		FromLabel:    fromLabel,
		ToLabel:      toLabel,
		ProposedType: name,
		JobID:        jobID,
		Reason:       "unknown_type",
	}
	if len(active) > 0 {
		skip.Reason = "below_similarity"
	}
	if err := v.store.LogSkipped(ctx, skip); err != nil {
		v.logger.Warn().Err(err).Str("type", name).Msg("Failed to log skipped relationship")
	}
	return &Resolution{Matched: false}, nil
}

// AddType registers a canonical type with a cached embedding, used by
// curators and the vocabulary seed.
func (v *Vocabulary) AddType(ctx context.Context, name string, dir models.RelationshipDirection, createdBy int64) error {
	name = normalizeTypeName(name)
	vectors, err := v.embedder.Embed(ctx, []string{strings.ReplaceAll(name, "_", " ")}, interfaces.EmbedDocument)
	if err != nil {
		return err
	}
	if err := v.store.StoreType(ctx, &models.VocabularyType{
		TypeName:  name,
		Direction: dir,
		Active:    true,
		Embedding: vectors[0],
		CreatedBy: createdBy,
	}); err != nil {
		return err
	}
	if v.epoch != nil {
		if err := v.epoch.Increment(ctx, models.MetricVocabularyChangeCounter, 1); err != nil {
			v.logger.Warn().Err(err).Msg("Failed to bump vocabulary change counter")
		}
	}
	return nil
}

// direction returns the declared direction, defaulting to outward.
func direction(t *models.VocabularyType) models.RelationshipDirection {
	if t.Direction == "" {
		return models.DirectionOutward
	}
	return t.Direction
}

// normalizeTypeName lowercases and snake_cases a proposed type label.
func normalizeTypeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}
