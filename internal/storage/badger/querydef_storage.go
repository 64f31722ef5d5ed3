package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// QueryDefinitionStorage implements the QueryDefinitionStorage interface for Badger
type QueryDefinitionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewQueryDefinitionStorage creates a new QueryDefinitionStorage instance
func NewQueryDefinitionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QueryDefinitionStorage {
	return &QueryDefinitionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *QueryDefinitionStorage) StoreDefinition(ctx context.Context, def *models.QueryDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("query definition ID is required")
	}
	if err := s.db.Store().Upsert(def.ID, *def); err != nil {
		return fmt.Errorf("failed to store query definition: %w", err)
	}
	return nil
}

func (s *QueryDefinitionStorage) GetDefinition(ctx context.Context, id string) (*models.QueryDefinition, error) {
	var def models.QueryDefinition
	if err := s.db.Store().Get(id, &def); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "query definition not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get query definition: %w", err)
	}
	return &def, nil
}

func (s *QueryDefinitionStorage) UpdateDefinition(ctx context.Context, def *models.QueryDefinition) error {
	if err := s.db.Store().Update(def.ID, *def); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.Ef(common.KindNotFound, "query definition not found: %s", def.ID)
		}
		return fmt.Errorf("failed to update query definition: %w", err)
	}
	return nil
}

func (s *QueryDefinitionStorage) DeleteDefinition(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.QueryDefinition{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.Ef(common.KindNotFound, "query definition not found: %s", id)
		}
		return fmt.Errorf("failed to delete query definition: %w", err)
	}
	return nil
}

func (s *QueryDefinitionStorage) ListDefinitions(ctx context.Context, ownerID int64) ([]*models.QueryDefinition, error) {
	query := &badgerhold.Query{}
	if ownerID != 0 {
		query = badgerhold.Where("OwnerID").Eq(ownerID)
	}
	var defs []models.QueryDefinition
	if err := s.db.Store().Find(&defs, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list query definitions: %w", err)
	}
	result := make([]*models.QueryDefinition, 0, len(defs))
	for i := range defs {
		result = append(result, &defs[i])
	}
	return result, nil
}
