package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ArtifactStorage implements the ArtifactStorage interface for Badger.
// Only metadata lives here; large payloads are in the blob store under
// Artifact.GarageKey.
type ArtifactStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewArtifactStorage creates a new ArtifactStorage instance
func NewArtifactStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ArtifactStorage {
	return &ArtifactStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ArtifactStorage) StoreArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("artifact ID is required")
	}
	if err := s.db.Store().Upsert(artifact.ID, *artifact); err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	var artifact models.Artifact
	if err := s.db.Store().Get(id, &artifact); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "artifact not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

func (s *ArtifactStorage) UpdateArtifact(ctx context.Context, artifact *models.Artifact) error {
	if err := s.db.Store().Update(artifact.ID, *artifact); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.Ef(common.KindNotFound, "artifact not found: %s", artifact.ID)
		}
		return fmt.Errorf("failed to update artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) DeleteArtifact(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.Artifact{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return common.Ef(common.KindNotFound, "artifact not found: %s", id)
		}
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *ArtifactStorage) ListArtifacts(ctx context.Context, filter models.ArtifactFilter) ([]*models.Artifact, error) {
	query := &badgerhold.Query{}
	if filter.ArtifactType != "" {
		query = badgerhold.Where("ArtifactType").Eq(filter.ArtifactType).Index("ArtifactType")
	} else if filter.Ontology != "" {
		query = badgerhold.Where("Ontology").Eq(filter.Ontology).Index("Ontology")
	}

	var artifacts []models.Artifact
	if err := s.db.Store().Find(&artifacts, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	result := make([]*models.Artifact, 0, len(artifacts))
	for i := range artifacts {
		a := artifacts[i]
		if filter.ArtifactType != "" && a.ArtifactType != filter.ArtifactType {
			continue
		}
		if filter.Ontology != "" && a.Ontology != filter.Ontology {
			continue
		}
		if filter.OwnerID != 0 && a.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Representation != "" && a.Representation != filter.Representation {
			continue
		}
		result = append(result, &a)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*models.Artifact{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (s *ArtifactStorage) ListExpired(ctx context.Context, now time.Time) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	if err := s.db.Store().Find(&artifacts, &badgerhold.Query{}); err != nil {
		return nil, fmt.Errorf("failed to scan artifacts: %w", err)
	}
	expired := make([]*models.Artifact, 0)
	for i := range artifacts {
		a := artifacts[i]
		if a.ExpiresAt != nil && !now.Before(*a.ExpiresAt) {
			expired = append(expired, &a)
		}
	}
	return expired, nil
}

func (s *ArtifactStorage) ListSuperseded(ctx context.Context) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	if err := s.db.Store().Find(&artifacts, badgerhold.Where("Superseded").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list superseded artifacts: %w", err)
	}
	result := make([]*models.Artifact, 0, len(artifacts))
	for i := range artifacts {
		result = append(result, &artifacts[i])
	}
	return result, nil
}

func (s *ArtifactStorage) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Artifact, error) {
	var artifacts []models.Artifact
	if err := s.db.Store().Find(&artifacts, badgerhold.Where("OwnerID").Eq(ownerID)); err != nil {
		return nil, fmt.Errorf("failed to list artifacts by owner: %w", err)
	}
	result := make([]*models.Artifact, 0, len(artifacts))
	for i := range artifacts {
		result = append(result, &artifacts[i])
	}
	return result, nil
}
