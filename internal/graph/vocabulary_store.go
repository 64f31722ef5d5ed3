package graph

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	storage "github.com/ternarybob/cognatio/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerVocabulary implements the VocabularyStore interface on the embedded
// badger database.
type BadgerVocabulary struct {
	db     *storage.BadgerDB
	logger arbor.ILogger
}

// NewBadgerVocabulary creates a new vocabulary store
func NewBadgerVocabulary(db *storage.BadgerDB, logger arbor.ILogger) interfaces.VocabularyStore {
	return &BadgerVocabulary{
		db:     db,
		logger: logger,
	}
}

func (v *BadgerVocabulary) GetType(ctx context.Context, name string) (*models.VocabularyType, error) {
	var t models.VocabularyType
	if err := v.db.Store().Get(name, &t); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "vocabulary type not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get vocabulary type: %w", err)
	}
	return &t, nil
}

func (v *BadgerVocabulary) ListActiveTypes(ctx context.Context) ([]*models.VocabularyType, error) {
	var types []models.VocabularyType
	if err := v.db.Store().Find(&types, badgerhold.Where("Active").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list vocabulary types: %w", err)
	}
	result := make([]*models.VocabularyType, 0, len(types))
	for i := range types {
		result = append(result, &types[i])
	}
	return result, nil
}

func (v *BadgerVocabulary) StoreType(ctx context.Context, t *models.VocabularyType) error {
	if t.TypeName == "" {
		return fmt.Errorf("vocabulary type name is required")
	}
	if t.Direction == "" {
		t.Direction = models.DirectionOutward
	}
	if err := v.db.Store().Upsert(t.TypeName, *t); err != nil {
		return fmt.Errorf("failed to store vocabulary type: %w", err)
	}
	return nil
}

func (v *BadgerVocabulary) LogSkipped(ctx context.Context, skipped *models.SkippedRelationship) error {
	if err := v.db.Store().Insert(badgerhold.NextSequence(), skipped); err != nil {
		return fmt.Errorf("failed to log skipped relationship: %w", err)
	}
	return nil
}
