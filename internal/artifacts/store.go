// -----------------------------------------------------------------------
// Artifact store - inline/large-blob dual-tier persistence of computed
// results with graph-epoch freshness stamps
// -----------------------------------------------------------------------

package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/models"
)

// PersistSpec carries everything needed to persist a new artifact.
type PersistSpec struct {
	Type              models.ArtifactType
	Representation    string
	Name              string
	OwnerID           int64
	Parameters        json.RawMessage
	Payload           []byte
	Ontology          string
	ConceptIDs        []string
	QueryDefinitionID string
	ExpiresAt         *time.Time
}

// Store implements the dual-tier artifact write/read paths. Payloads at or
// below the inline threshold live in the metadata row; larger ones go to
// the blob store under a type-prefixed key.
type Store struct {
	storage   interfaces.ArtifactStorage
	blobs     interfaces.BlobStore
	epoch     *metrics.EpochService
	threshold int
	logger    arbor.ILogger
}

// NewStore creates an artifact store.
func NewStore(storage interfaces.ArtifactStorage, blobs interfaces.BlobStore, epoch *metrics.EpochService, cfg *common.ArtifactsConfig, logger arbor.ILogger) *Store {
	threshold := cfg.InlineThresholdBytes
	if threshold <= 0 {
		threshold = 10_240
	}
	return &Store{
		storage:   storage,
		blobs:     blobs,
		epoch:     epoch,
		threshold: threshold,
		logger:    logger,
	}
}

// blobKey builds the type-prefixed blob key for an artifact.
func blobKey(artifactType models.ArtifactType, ontology, id string) string {
	if ontology != "" {
		return fmt.Sprintf("artifacts/%s/%s/%s.json", artifactType, ontology, id)
	}
	return fmt.Sprintf("artifacts/%s/%s.json", artifactType, id)
}

// Persist writes a new artifact, recording the graph epoch at write time.
func (s *Store) Persist(ctx context.Context, spec *PersistSpec) (*models.Artifact, error) {
	if spec.Type == "" {
		return nil, common.E(common.KindValidation, "artifact type is required")
	}

	epoch, err := s.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}

	artifact := &models.Artifact{
		ID:                common.NewArtifactID(),
		ArtifactType:      spec.Type,
		Representation:    spec.Representation,
		Name:              spec.Name,
		OwnerID:           spec.OwnerID,
		Parameters:        spec.Parameters,
		GraphEpoch:        epoch,
		CreatedAt:         time.Now().UTC(),
		ExpiresAt:         spec.ExpiresAt,
		ConceptIDs:        spec.ConceptIDs,
		Ontology:          spec.Ontology,
		QueryDefinitionID: spec.QueryDefinitionID,
	}

	if len(spec.Payload) <= s.threshold {
		artifact.InlineResult = json.RawMessage(spec.Payload)
	} else {
		key := blobKey(spec.Type, spec.Ontology, artifact.ID)
		if err := s.blobs.Put(ctx, key, spec.Payload); err != nil {
			return nil, fmt.Errorf("failed to write artifact payload: %w", err)
		}
		artifact.GarageKey = key
	}

	if err := s.storage.StoreArtifact(ctx, artifact); err != nil {
		if artifact.GarageKey != "" {
			_ = s.blobs.Delete(ctx, artifact.GarageKey)
		}
		return nil, err
	}

	s.logger.Debug().
		Str("artifact_id", artifact.ID).
		Str("type", string(spec.Type)).
		Bool("inline", artifact.HasInline()).
		Int64("graph_epoch", epoch).
		Msg("Artifact persisted")

	return artifact, nil
}

// GetMeta returns artifact metadata with the freshness flag computed
// against the current graph change counter.
func (s *Store) GetMeta(ctx context.Context, id string) (*models.ArtifactMeta, error) {
	artifact, err := s.storage.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := s.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}
	return &models.ArtifactMeta{
		Artifact: *artifact,
		IsFresh:  artifact.GraphEpoch == current,
	}, nil
}

// GetPayload returns the artifact payload from whichever tier holds it.
// A missing blob surfaces as a NotFound "missing payload" error while the
// metadata row remains until deleted or regenerated.
func (s *Store) GetPayload(ctx context.Context, id string) ([]byte, error) {
	artifact, err := s.storage.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if artifact.HasInline() {
		return artifact.InlineResult, nil
	}
	if artifact.GarageKey == "" {
		return nil, common.Ef(common.KindNotFound, "artifact %s has no payload", id)
	}
	payload, err := s.blobs.Get(ctx, artifact.GarageKey)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, common.Ef(common.KindNotFound, "artifact %s payload missing from blob store", id)
		}
		return nil, err
	}
	return payload, nil
}

// List returns artifact metadata with freshness flags.
func (s *Store) List(ctx context.Context, filter models.ArtifactFilter) ([]*models.ArtifactMeta, error) {
	artifacts, err := s.storage.ListArtifacts(ctx, filter)
	if err != nil {
		return nil, err
	}
	current, err := s.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*models.ArtifactMeta, 0, len(artifacts))
	for _, a := range artifacts {
		result = append(result, &models.ArtifactMeta{
			Artifact: *a,
			IsFresh:  a.GraphEpoch == current,
		})
	}
	return result, nil
}

// ReplacePayload rewrites an artifact's payload in place, restamping the
// epoch. Used by regeneration.
func (s *Store) ReplacePayload(ctx context.Context, id string, payload []byte) (*models.Artifact, error) {
	artifact, err := s.storage.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}

	epoch, err := s.epoch.Current(ctx)
	if err != nil {
		return nil, err
	}

	oldKey := artifact.GarageKey
	artifact.GraphEpoch = epoch
	if len(payload) <= s.threshold {
		artifact.InlineResult = json.RawMessage(payload)
		artifact.GarageKey = ""
	} else {
		key := blobKey(artifact.ArtifactType, artifact.Ontology, artifact.ID)
		if err := s.blobs.Put(ctx, key, payload); err != nil {
			return nil, fmt.Errorf("failed to write artifact payload: %w", err)
		}
		artifact.InlineResult = nil
		artifact.GarageKey = key
	}

	if err := s.storage.UpdateArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	if oldKey != "" && oldKey != artifact.GarageKey {
		_ = s.blobs.Delete(ctx, oldKey)
	}
	return artifact, nil
}

// Delete removes the metadata row and any blob payload.
func (s *Store) Delete(ctx context.Context, id string) error {
	artifact, err := s.storage.GetArtifact(ctx, id)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteArtifact(ctx, id); err != nil {
		return err
	}
	if artifact.GarageKey != "" {
		if err := s.blobs.Delete(ctx, artifact.GarageKey); err != nil {
			s.logger.Warn().Err(err).Str("artifact_id", id).Msg("Failed to delete artifact blob")
		}
	}
	return nil
}

// MarkSuperseded flags an artifact replaced by regeneration; the daily
// cleanup removes it.
func (s *Store) MarkSuperseded(ctx context.Context, id string) error {
	artifact, err := s.storage.GetArtifact(ctx, id)
	if err != nil {
		return err
	}
	artifact.Superseded = true
	return s.storage.UpdateArtifact(ctx, artifact)
}

// Cleanup deletes expired, superseded and orphaned artifacts. Returns the
// number removed; used by the daily artifact-cleanup launcher.
func (s *Store) Cleanup(ctx context.Context, now time.Time, userExists func(context.Context, int64) (bool, error)) (int, error) {
	removed := 0

	expired, err := s.storage.ListExpired(ctx, now)
	if err != nil {
		return removed, err
	}
	for _, a := range expired {
		if err := s.Delete(ctx, a.ID); err != nil {
			s.logger.Warn().Err(err).Str("artifact_id", a.ID).Msg("Failed to delete expired artifact")
			continue
		}
		removed++
	}

	superseded, err := s.storage.ListSuperseded(ctx)
	if err != nil {
		return removed, err
	}
	for _, a := range superseded {
		if err := s.Delete(ctx, a.ID); err != nil {
			continue
		}
		removed++
	}

	if userExists != nil {
		all, err := s.storage.ListArtifacts(ctx, models.ArtifactFilter{})
		if err != nil {
			return removed, err
		}
		for _, a := range all {
			if a.OwnerID == 0 {
				continue // System-owned artifacts have no owner to orphan
			}
			exists, err := userExists(ctx, a.OwnerID)
			if err != nil {
				continue
			}
			if !exists {
				if err := s.Delete(ctx, a.ID); err != nil {
					continue
				}
				removed++
			}
		}
	}

	return removed, nil
}
