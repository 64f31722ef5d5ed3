package models

import "time"

// Concept is a semantic node, unique by ConceptID. Near-duplicate labels are
// resolved at ingestion time by embedding similarity, so two concepts in the
// same ontology are always semantically distinct.
type Concept struct {
	ConceptID   string    `json:"concept_id" badgerhold:"key"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Ontology    string    `json:"ontology" badgerhold:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Source is a per-chunk record of ingested content.
type Source struct {
	SourceID        string    `json:"source_id" badgerhold:"key"`
	Document        string    `json:"document" badgerhold:"index"` // DocumentMeta content hash
	Paragraph       int       `json:"paragraph"`
	FullText        string    `json:"full_text"`
	ContentHash     string    `json:"content_hash"` // SHA-256 of FullText
	ContentType     string    `json:"content_type,omitempty"`
	StorageKey      string    `json:"storage_key,omitempty"`
	Embedding       []float32 `json:"embedding,omitempty"`
	VisualEmbedding []float32 `json:"visual_embedding,omitempty"`
	Ontology        string    `json:"ontology" badgerhold:"index"`
	CreatedAt       time.Time `json:"created_at"`
}

// Instance is an evidence quote linking a Concept to a Source.
type Instance struct {
	InstanceID string    `json:"instance_id" badgerhold:"key"`
	ConceptID  string    `json:"concept_id" badgerhold:"index"`
	SourceID   string    `json:"source_id" badgerhold:"index"`
	Quote      string    `json:"quote"`
	CreatedAt  time.Time `json:"created_at"`
}

// DocumentMeta is the per-document provenance node, keyed by content hash.
// It is the ultimate source of truth for ingestion dedup.
type DocumentMeta struct {
	DocumentID  string    `json:"document_id" badgerhold:"key"` // content hash
	Ontology    string    `json:"ontology" badgerhold:"index"`
	SourceCount int       `json:"source_count"`
	Filename    string    `json:"filename,omitempty"`
	SourceType  string    `json:"source_type,omitempty"`
	FilePath    string    `json:"file_path,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	IngestedAt  time.Time `json:"ingested_at"`
	IngestedBy  int64     `json:"ingested_by"`
	JobID       string    `json:"job_id,omitempty"`
}

// OntologyLifecycle enumerates ontology lifecycle states.
type OntologyLifecycle string

const (
	OntologyActive   OntologyLifecycle = "active"
	OntologyArchived OntologyLifecycle = "archived"
	OntologyRetired  OntologyLifecycle = "retired"
)

// Ontology is a first-class named scope node. Every Source is scoped by
// exactly one ontology.
type Ontology struct {
	OntologyID     string            `json:"ontology_id" badgerhold:"key"`
	Name           string            `json:"name" badgerhold:"index"`
	LifecycleState OntologyLifecycle `json:"lifecycle_state"`
	CreationEpoch  int64             `json:"creation_epoch"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RelationshipDirection declares direction semantics for a relationship type.
type RelationshipDirection string

const (
	DirectionOutward       RelationshipDirection = "outward"
	DirectionInward        RelationshipDirection = "inward"
	DirectionBidirectional RelationshipDirection = "bidirectional"
)

// RelationshipSource identifies edge provenance.
type RelationshipSource string

const (
	ProvenanceLLMExtraction RelationshipSource = "llm_extraction"
	ProvenanceHumanCuration RelationshipSource = "human_curation"
)

// Relationship is a typed edge between concepts, unique by the triple
// (FromConceptID, ToConceptID, RelationshipType) with normalised direction.
// Re-issuing the triple updates provenance but never duplicates the edge.
type Relationship struct {
	ID               string                `json:"id" badgerhold:"key"` // "from|type|to"
	FromConceptID    string                `json:"from_concept_id" badgerhold:"index"`
	ToConceptID      string                `json:"to_concept_id" badgerhold:"index"`
	RelationshipType string                `json:"relationship_type" badgerhold:"index"`
	Direction        RelationshipDirection `json:"direction"`
	CreatedAt        time.Time             `json:"created_at"`
	CreatedBy        int64                 `json:"created_by"`
	Source           RelationshipSource    `json:"source"`
	JobID            string                `json:"job_id,omitempty"`
	DocumentID       string                `json:"document_id,omitempty"`
	Confidence       float64               `json:"confidence"`
}

// RelationshipKey builds the canonical edge identity from its triple.
// Bidirectional edges normalise endpoint order so A-B and B-A collide.
func RelationshipKey(from, to, relType string, dir RelationshipDirection) string {
	if dir == DirectionInward {
		from, to = to, from
		dir = DirectionOutward
	}
	if dir == DirectionBidirectional && to < from {
		from, to = to, from
	}
	return from + "|" + relType + "|" + to
}

// VocabularyType is a canonical relationship label with declared direction
// semantics and a cached embedding for near-match substitution.
type VocabularyType struct {
	TypeName  string                `json:"type_name" badgerhold:"key"`
	Direction RelationshipDirection `json:"direction"`
	Active    bool                  `json:"active"`
	Embedding []float32             `json:"embedding,omitempty"`
	CreatedBy int64                 `json:"created_by"`
	CreatedAt time.Time             `json:"created_at"`
}

// SkippedRelationship logs an extractor-proposed edge whose type was not in
// the active vocabulary and could not be substituted.
type SkippedRelationship struct {
	ID           uint64    `json:"id" badgerhold:"key"`
	FromLabel    string    `json:"from_label"`
	ToLabel      string    `json:"to_label"`
	ProposedType string    `json:"proposed_type"`
	JobID        string    `json:"job_id" badgerhold:"index"`
	Reason       string    `json:"reason"` // "unknown_type" or "below_similarity"
	CreatedAt    time.Time `json:"created_at"`
}

// CandidateConcept is one extractor-proposed concept for a chunk.
type CandidateConcept struct {
	Label         string `json:"label"`
	Description   string `json:"description"`
	EvidenceQuote string `json:"evidence_quote"`
}

// CandidateRelationship is one extractor-proposed edge for a chunk.
type CandidateRelationship struct {
	FromLabel        string  `json:"from_label"`
	ToLabel          string  `json:"to_label"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

// ExtractionResult is the extractor output for one chunk.
type ExtractionResult struct {
	Concepts      []CandidateConcept      `json:"concepts"`
	Relationships []CandidateRelationship `json:"relationships"`
	InputTokens   int                     `json:"-"`
	OutputTokens  int                     `json:"-"`
}

// ConceptMatch is a similarity search hit.
type ConceptMatch struct {
	Concept    *Concept `json:"concept"`
	Similarity float64  `json:"similarity"`
}

// GraphCounts is the census used by the integrity check and the epoch
// refresh.
type GraphCounts struct {
	Concepts      int64 `json:"concepts"`
	Sources       int64 `json:"sources"`
	Instances     int64 `json:"instances"`
	Relationships int64 `json:"relationships"`
	Documents     int64 `json:"documents"`
	Ontologies    int64 `json:"ontologies"`
}

// Total is the composite graph change snapshot: the sum of object counts.
func (c GraphCounts) Total() int64 {
	return c.Concepts + c.Sources + c.Instances + c.Relationships + c.Documents + c.Ontologies
}
