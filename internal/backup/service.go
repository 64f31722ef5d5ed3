// -----------------------------------------------------------------------
// Backup service - self-describing JSON dumps of the graph with a forward
// converter chain for older schema versions
// -----------------------------------------------------------------------

package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// Service exports and applies backup containers. Parsing validates the
// container against the running schema and converts older dumps forward
// one version at a time; containers newer than this build are refused.
type Service struct {
	graph  interfaces.GraphStore
	logger arbor.ILogger
}

// NewService creates a backup service.
func NewService(graph interfaces.GraphStore, logger arbor.ILogger) *Service {
	return &Service{graph: graph, logger: logger}
}

// Export builds a backup container. An empty ontology exports the full
// graph; a named one produces a partial dump scoped to that ontology and
// the concepts it reaches.
func (s *Service) Export(ctx context.Context, ontology string) (*models.Backup, error) {
	data, err := s.graph.Export(ctx, ontology)
	if err != nil {
		return nil, err
	}

	backup := &models.Backup{
		Version:       models.BackupVersion,
		SchemaVersion: models.CurrentSchemaVersion,
		Type:          models.BackupFull,
		Timestamp:     time.Now().UTC(),
		Data:          *data,
	}
	if ontology != "" {
		backup.Type = models.BackupPartial
		backup.Ontology = ontology
	}
	backup.ComputeStatistics()

	s.logger.Info().
		Str("type", string(backup.Type)).
		Str("ontology", ontology).
		Int("concepts", backup.Statistics.ConceptCount).
		Int("sources", backup.Statistics.SourceCount).
		Msg("Backup exported")

	return backup, nil
}

// WriteTo streams a backup container as JSON, used by the download handler.
func (s *Service) WriteTo(ctx context.Context, w io.Writer, ontology string) error {
	backup, err := s.Export(ctx, ontology)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(backup)
}

// Parse decodes raw container bytes, checks version metadata and converts
// older schemas forward. Referential integrity is a separate Validate pass
// so operators can skip it on a dump they trust.
func (s *Service) Parse(data []byte) (*models.Backup, error) {
	var backup models.Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, common.Wrap(common.KindUnprocessable, "backup file is not valid JSON", err)
	}

	if backup.Version == "" || backup.SchemaVersion == 0 {
		return nil, common.E(common.KindUnprocessable, "backup file is missing version metadata")
	}
	if backup.SchemaVersion > models.CurrentSchemaVersion {
		return nil, common.Ef(common.KindUnprocessable,
			"backup schema version %d is newer than this build supports (%d)",
			backup.SchemaVersion, models.CurrentSchemaVersion)
	}

	converted := backup.SchemaVersion < models.CurrentSchemaVersion
	for backup.SchemaVersion < models.CurrentSchemaVersion {
		converter, ok := converters[backup.SchemaVersion]
		if !ok {
			return nil, common.Ef(common.KindUnprocessable,
				"no converter from backup schema version %d", backup.SchemaVersion)
		}
		if err := converter(&backup); err != nil {
			return nil, common.Wrap(common.KindUnprocessable,
				fmt.Sprintf("backup conversion from schema version %d failed", backup.SchemaVersion), err)
		}
		backup.SchemaVersion++
	}
	if converted {
		s.logger.Info().
			Int("schema_version", models.CurrentSchemaVersion).
			Msg("Backup converted to current schema")
	}

	return &backup, nil
}

// Apply writes a backup into the graph. Full restores replace everything;
// partial restores merge into the live graph. The caller runs this inside
// the checkpoint guard.
func (s *Service) Apply(ctx context.Context, backup *models.Backup) error {
	if backup.Type == models.BackupFull {
		if err := s.graph.Clear(ctx); err != nil {
			return err
		}
	}
	return s.graph.Import(ctx, &backup.Data)
}

// Validate checks referential integrity of the container: every instance
// and relationship endpoint must resolve within the dump. Partial dumps
// are exempt; their dangling endpoints may resolve against the live graph
// at apply time.
func (s *Service) Validate(backup *models.Backup) error {
	if backup.Type == models.BackupPartial {
		return nil
	}

	concepts := make(map[string]struct{}, len(backup.Data.Concepts))
	for _, c := range backup.Data.Concepts {
		concepts[c.ConceptID] = struct{}{}
	}
	sources := make(map[string]struct{}, len(backup.Data.Sources))
	for _, src := range backup.Data.Sources {
		sources[src.SourceID] = struct{}{}
	}

	for _, inst := range backup.Data.Instances {
		if _, ok := concepts[inst.ConceptID]; !ok {
			return common.Ef(common.KindIntegrity, "instance %s references unknown concept %s", inst.InstanceID, inst.ConceptID)
		}
		if _, ok := sources[inst.SourceID]; !ok {
			return common.Ef(common.KindIntegrity, "instance %s references unknown source %s", inst.InstanceID, inst.SourceID)
		}
	}
	for _, rel := range backup.Data.Relationships {
		if _, ok := concepts[rel.FromConceptID]; !ok {
			return common.Ef(common.KindIntegrity, "relationship %s references unknown concept %s", rel.ID, rel.FromConceptID)
		}
		if _, ok := concepts[rel.ToConceptID]; !ok {
			return common.Ef(common.KindIntegrity, "relationship %s references unknown concept %s", rel.ID, rel.ToConceptID)
		}
	}
	return nil
}

// converters upgrade a container one schema version forward. Keyed by the
// version they convert FROM.
var converters = map[int]func(*models.Backup) error{
	1: convertV1toV2,
	2: convertV2toV3,
}

// convertV1toV2 renormalises relationship keys. Version 1 dumps predate
// direction normalisation, so inward and bidirectional edges may carry
// denormalised ids and duplicate mirror edges.
func convertV1toV2(backup *models.Backup) error {
	seen := make(map[string]int, len(backup.Data.Relationships))
	out := backup.Data.Relationships[:0]
	for _, rel := range backup.Data.Relationships {
		if rel.Direction == "" {
			rel.Direction = models.DirectionOutward
		}
		if rel.Direction == models.DirectionInward {
			rel.FromConceptID, rel.ToConceptID = rel.ToConceptID, rel.FromConceptID
			rel.Direction = models.DirectionOutward
		}
		rel.ID = models.RelationshipKey(rel.FromConceptID, rel.ToConceptID, rel.RelationshipType, rel.Direction)
		if idx, dup := seen[rel.ID]; dup {
			if rel.Confidence > out[idx].Confidence {
				out[idx] = rel
			}
			continue
		}
		seen[rel.ID] = len(out)
		out = append(out, rel)
	}
	backup.Data.Relationships = out
	return nil
}

// convertV2toV3 synthesises ontology nodes. Version 2 dumps carried the
// ontology only as a string on sources and concepts.
func convertV2toV3(backup *models.Backup) error {
	if len(backup.Data.Ontologies) > 0 {
		return nil
	}
	names := make(map[string]struct{})
	for _, c := range backup.Data.Concepts {
		if c.Ontology != "" {
			names[c.Ontology] = struct{}{}
		}
	}
	for _, src := range backup.Data.Sources {
		if src.Ontology != "" {
			names[src.Ontology] = struct{}{}
		}
	}
	for name := range names {
		backup.Data.Ontologies = append(backup.Data.Ontologies, models.Ontology{
			OntologyID:     "ont_" + name,
			Name:           name,
			LifecycleState: models.OntologyActive,
			CreatedAt:      backup.Timestamp,
		})
	}
	sort.Slice(backup.Data.Ontologies, func(i, j int) bool {
		return backup.Data.Ontologies[i].OntologyID < backup.Data.Ontologies[j].OntologyID
	})
	return nil
}
