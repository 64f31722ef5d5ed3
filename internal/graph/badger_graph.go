// -----------------------------------------------------------------------
// Embedded graph store - badgerhold-backed implementation of the graph
// facade, including brute-force cosine similarity search
// -----------------------------------------------------------------------

package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	storage "github.com/ternarybob/cognatio/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerGraph implements the GraphStore interface on the embedded badger
// database. Similarity search is a linear scan over concepts in the target
// ontology; adequate for graphs in the tens of thousands of nodes.
type BadgerGraph struct {
	db     *storage.BadgerDB
	logger arbor.ILogger
}

// NewBadgerGraph creates a new embedded graph store
func NewBadgerGraph(db *storage.BadgerDB, logger arbor.ILogger) interfaces.GraphStore {
	return &BadgerGraph{
		db:     db,
		logger: logger,
	}
}

// -----------------------------------------------------------------------
// Concepts
// -----------------------------------------------------------------------

func (g *BadgerGraph) UpsertConcept(ctx context.Context, concept *models.Concept) error {
	if concept.ConceptID == "" {
		return fmt.Errorf("concept ID is required")
	}
	if concept.CreatedAt.IsZero() {
		concept.CreatedAt = time.Now().UTC()
	}
	if err := g.db.Store().Upsert(concept.ConceptID, *concept); err != nil {
		return fmt.Errorf("failed to upsert concept: %w", err)
	}
	return nil
}

func (g *BadgerGraph) GetConcept(ctx context.Context, conceptID string) (*models.Concept, error) {
	var concept models.Concept
	if err := g.db.Store().Get(conceptID, &concept); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "concept not found: %s", conceptID)
		}
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}
	return &concept, nil
}

// SearchConcepts returns concepts in the ontology whose embedding cosine
// similarity meets minSimilarity, highest first. An empty ontology searches
// across all ontologies. Ties break on oldest CreatedAt so repeated
// ingestions match deterministically.
func (g *BadgerGraph) SearchConcepts(ctx context.Context, embedding []float32, ontology string, minSimilarity float64, limit int) ([]*models.ConceptMatch, error) {
	query := &badgerhold.Query{}
	if ontology != "" {
		query = badgerhold.Where("Ontology").Eq(ontology).Index("Ontology")
	}
	var concepts []models.Concept
	if err := g.db.Store().Find(&concepts, query); err != nil {
		return nil, fmt.Errorf("failed to scan concepts: %w", err)
	}

	matches := make([]*models.ConceptMatch, 0)
	for i := range concepts {
		c := concepts[i]
		if len(c.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(embedding, c.Embedding)
		if sim >= minSimilarity {
			matches = append(matches, &models.ConceptMatch{Concept: &c, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Concept.CreatedAt.Before(matches[j].Concept.CreatedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// -----------------------------------------------------------------------
// Sources & instances
// -----------------------------------------------------------------------

func (g *BadgerGraph) UpsertSource(ctx context.Context, source *models.Source) error {
	if source.SourceID == "" {
		return fmt.Errorf("source ID is required")
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now().UTC()
	}
	if err := g.db.Store().Upsert(source.SourceID, *source); err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	return nil
}

func (g *BadgerGraph) GetSource(ctx context.Context, sourceID string) (*models.Source, error) {
	var source models.Source
	if err := g.db.Store().Get(sourceID, &source); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "source not found: %s", sourceID)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

func (g *BadgerGraph) UpsertInstance(ctx context.Context, instance *models.Instance) error {
	if instance.InstanceID == "" {
		return fmt.Errorf("instance ID is required")
	}
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = time.Now().UTC()
	}
	if err := g.db.Store().Upsert(instance.InstanceID, *instance); err != nil {
		return fmt.Errorf("failed to upsert instance: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------
// Relationships
// -----------------------------------------------------------------------

// UpsertRelationship merges on the normalised triple key; a re-issued edge
// refreshes provenance instead of duplicating.
func (g *BadgerGraph) UpsertRelationship(ctx context.Context, rel *models.Relationship) error {
	if rel.FromConceptID == "" || rel.ToConceptID == "" || rel.RelationshipType == "" {
		return fmt.Errorf("relationship triple is required")
	}
	if rel.ID == "" {
		rel.ID = models.RelationshipKey(rel.FromConceptID, rel.ToConceptID, rel.RelationshipType, rel.Direction)
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	if err := g.db.Store().Upsert(rel.ID, *rel); err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

func (g *BadgerGraph) ListRelationshipTypes(ctx context.Context) ([]string, error) {
	var rels []models.Relationship
	if err := g.db.Store().Find(&rels, &badgerhold.Query{}); err != nil {
		return nil, fmt.Errorf("failed to scan relationships: %w", err)
	}
	seen := make(map[string]bool)
	types := make([]string, 0)
	for _, r := range rels {
		if !seen[r.RelationshipType] {
			seen[r.RelationshipType] = true
			types = append(types, r.RelationshipType)
		}
	}
	sort.Strings(types)
	return types, nil
}

// -----------------------------------------------------------------------
// Document provenance
// -----------------------------------------------------------------------

func (g *BadgerGraph) UpsertDocumentMeta(ctx context.Context, meta *models.DocumentMeta) error {
	if meta.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if err := g.db.Store().Upsert(meta.DocumentID, *meta); err != nil {
		return fmt.Errorf("failed to upsert document meta: %w", err)
	}
	return nil
}

func (g *BadgerGraph) GetDocumentMeta(ctx context.Context, contentHash string) (*models.DocumentMeta, error) {
	var meta models.DocumentMeta
	if err := g.db.Store().Get(contentHash, &meta); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, common.Ef(common.KindNotFound, "document not found: %s", contentHash)
		}
		return nil, fmt.Errorf("failed to get document meta: %w", err)
	}
	return &meta, nil
}

// GetDocumentMetaByDedupKey returns nil without error when the document has
// not been ingested into the ontology; content hash collisions across
// ontologies are permitted.
func (g *BadgerGraph) GetDocumentMetaByDedupKey(ctx context.Context, contentHash, ontology string) (*models.DocumentMeta, error) {
	meta, err := g.GetDocumentMeta(ctx, contentHash)
	if err != nil {
		if common.IsKind(err, common.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if meta.Ontology != ontology {
		return nil, nil
	}
	return meta, nil
}

// -----------------------------------------------------------------------
// Ontologies
// -----------------------------------------------------------------------

// EnsureOntology returns the ontology node, creating it active when absent.
func (g *BadgerGraph) EnsureOntology(ctx context.Context, name string, creationEpoch int64) (*models.Ontology, error) {
	existing, err := g.GetOntology(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !common.IsKind(err, common.KindNotFound) {
		return nil, err
	}

	ontology := &models.Ontology{
		OntologyID:     "ont_" + name,
		Name:           name,
		LifecycleState: models.OntologyActive,
		CreationEpoch:  creationEpoch,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.db.Store().Upsert(ontology.OntologyID, *ontology); err != nil {
		return nil, fmt.Errorf("failed to create ontology: %w", err)
	}
	g.logger.Info().Str("ontology", name).Msg("Ontology created")
	return ontology, nil
}

func (g *BadgerGraph) GetOntology(ctx context.Context, name string) (*models.Ontology, error) {
	var ontologies []models.Ontology
	err := g.db.Store().Find(&ontologies, badgerhold.Where("Name").Eq(name).Index("Name"))
	if err != nil {
		return nil, fmt.Errorf("failed to query ontology: %w", err)
	}
	if len(ontologies) == 0 {
		return nil, common.Ef(common.KindNotFound, "ontology not found: %s", name)
	}
	return &ontologies[0], nil
}

func (g *BadgerGraph) ListOntologies(ctx context.Context) ([]*models.Ontology, error) {
	var ontologies []models.Ontology
	if err := g.db.Store().Find(&ontologies, (&badgerhold.Query{}).SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list ontologies: %w", err)
	}
	result := make([]*models.Ontology, 0, len(ontologies))
	for i := range ontologies {
		result = append(result, &ontologies[i])
	}
	return result, nil
}

// -----------------------------------------------------------------------
// Census, export, import
// -----------------------------------------------------------------------

func (g *BadgerGraph) Counts(ctx context.Context) (models.GraphCounts, error) {
	var counts models.GraphCounts

	concepts, err := g.db.Store().Count(models.Concept{}, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to count concepts: %w", err)
	}
	sources, err := g.db.Store().Count(models.Source{}, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to count sources: %w", err)
	}
	instances, err := g.db.Store().Count(models.Instance{}, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to count instances: %w", err)
	}
	relationships, err := g.db.Store().Count(models.Relationship{}, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to count relationships: %w", err)
	}
	documents, err := g.db.Store().Count(models.DocumentMeta{}, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to count documents: %w", err)
	}
	ontologies, err := g.db.Store().Count(models.Ontology{}, nil)
	if err != nil {
		return counts, fmt.Errorf("failed to count ontologies: %w", err)
	}

	counts.Concepts = int64(concepts)
	counts.Sources = int64(sources)
	counts.Instances = int64(instances)
	counts.Relationships = int64(relationships)
	counts.Documents = int64(documents)
	counts.Ontologies = int64(ontologies)
	return counts, nil
}

// Export dumps the graph content, arrays sorted by primary key so a backup
// round-trip is bytewise stable. Empty ontology exports everything.
func (g *BadgerGraph) Export(ctx context.Context, ontology string) (*models.BackupData, error) {
	data := &models.BackupData{
		Concepts:      []models.Concept{},
		Sources:       []models.Source{},
		Instances:     []models.Instance{},
		Relationships: []models.Relationship{},
		DocumentMeta:  []models.DocumentMeta{},
		Ontologies:    []models.Ontology{},
	}

	var concepts []models.Concept
	if err := g.db.Store().Find(&concepts, (&badgerhold.Query{}).SortBy("ConceptID")); err != nil {
		return nil, fmt.Errorf("failed to export concepts: %w", err)
	}
	conceptInScope := make(map[string]bool)
	for _, c := range concepts {
		if ontology != "" && c.Ontology != ontology {
			continue
		}
		conceptInScope[c.ConceptID] = true
		data.Concepts = append(data.Concepts, c)
	}

	var sources []models.Source
	if err := g.db.Store().Find(&sources, (&badgerhold.Query{}).SortBy("SourceID")); err != nil {
		return nil, fmt.Errorf("failed to export sources: %w", err)
	}
	sourceInScope := make(map[string]bool)
	for _, s := range sources {
		if ontology != "" && s.Ontology != ontology {
			continue
		}
		sourceInScope[s.SourceID] = true
		data.Sources = append(data.Sources, s)
	}

	var instances []models.Instance
	if err := g.db.Store().Find(&instances, (&badgerhold.Query{}).SortBy("InstanceID")); err != nil {
		return nil, fmt.Errorf("failed to export instances: %w", err)
	}
	for _, in := range instances {
		if ontology != "" && (!conceptInScope[in.ConceptID] || !sourceInScope[in.SourceID]) {
			continue
		}
		data.Instances = append(data.Instances, in)
	}

	var relationships []models.Relationship
	if err := g.db.Store().Find(&relationships, (&badgerhold.Query{}).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to export relationships: %w", err)
	}
	for _, r := range relationships {
		if ontology != "" && (!conceptInScope[r.FromConceptID] || !conceptInScope[r.ToConceptID]) {
			continue
		}
		data.Relationships = append(data.Relationships, r)
	}

	var docs []models.DocumentMeta
	if err := g.db.Store().Find(&docs, (&badgerhold.Query{}).SortBy("DocumentID")); err != nil {
		return nil, fmt.Errorf("failed to export document meta: %w", err)
	}
	for _, d := range docs {
		if ontology != "" && d.Ontology != ontology {
			continue
		}
		data.DocumentMeta = append(data.DocumentMeta, d)
	}

	var ontologies []models.Ontology
	if err := g.db.Store().Find(&ontologies, (&badgerhold.Query{}).SortBy("OntologyID")); err != nil {
		return nil, fmt.Errorf("failed to export ontologies: %w", err)
	}
	for _, o := range ontologies {
		if ontology != "" && o.Name != ontology {
			continue
		}
		data.Ontologies = append(data.Ontologies, o)
	}

	return data, nil
}

// Import upserts the backup content into the graph. Idempotent: re-importing
// the same dump changes nothing.
func (g *BadgerGraph) Import(ctx context.Context, data *models.BackupData) error {
	for i := range data.Ontologies {
		o := data.Ontologies[i]
		if err := g.db.Store().Upsert(o.OntologyID, o); err != nil {
			return fmt.Errorf("failed to import ontology %s: %w", o.Name, err)
		}
	}
	for i := range data.Concepts {
		c := data.Concepts[i]
		if err := g.db.Store().Upsert(c.ConceptID, c); err != nil {
			return fmt.Errorf("failed to import concept %s: %w", c.ConceptID, err)
		}
	}
	for i := range data.Sources {
		s := data.Sources[i]
		if err := g.db.Store().Upsert(s.SourceID, s); err != nil {
			return fmt.Errorf("failed to import source %s: %w", s.SourceID, err)
		}
	}
	for i := range data.Instances {
		in := data.Instances[i]
		if err := g.db.Store().Upsert(in.InstanceID, in); err != nil {
			return fmt.Errorf("failed to import instance %s: %w", in.InstanceID, err)
		}
	}
	for i := range data.Relationships {
		r := data.Relationships[i]
		if r.ID == "" {
			r.ID = models.RelationshipKey(r.FromConceptID, r.ToConceptID, r.RelationshipType, r.Direction)
		}
		if err := g.db.Store().Upsert(r.ID, r); err != nil {
			return fmt.Errorf("failed to import relationship %s: %w", r.ID, err)
		}
	}
	for i := range data.DocumentMeta {
		d := data.DocumentMeta[i]
		if err := g.db.Store().Upsert(d.DocumentID, d); err != nil {
			return fmt.Errorf("failed to import document meta %s: %w", d.DocumentID, err)
		}
	}
	return nil
}

// Clear removes every graph record. Used by full restore and tests.
func (g *BadgerGraph) Clear(ctx context.Context) error {
	if err := g.db.Store().DeleteMatching(models.Concept{}, nil); err != nil {
		return fmt.Errorf("failed to clear concepts: %w", err)
	}
	if err := g.db.Store().DeleteMatching(models.Source{}, nil); err != nil {
		return fmt.Errorf("failed to clear sources: %w", err)
	}
	if err := g.db.Store().DeleteMatching(models.Instance{}, nil); err != nil {
		return fmt.Errorf("failed to clear instances: %w", err)
	}
	if err := g.db.Store().DeleteMatching(models.Relationship{}, nil); err != nil {
		return fmt.Errorf("failed to clear relationships: %w", err)
	}
	if err := g.db.Store().DeleteMatching(models.DocumentMeta{}, nil); err != nil {
		return fmt.Errorf("failed to clear document meta: %w", err)
	}
	if err := g.db.Store().DeleteMatching(models.Ontology{}, nil); err != nil {
		return fmt.Errorf("failed to clear ontologies: %w", err)
	}
	return nil
}
