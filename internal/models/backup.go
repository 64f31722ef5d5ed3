package models

import "time"

// BackupVersion is the container version this build writes.
const BackupVersion = "1.0"

// CurrentSchemaVersion is the schema number this build expects. Restores
// from older containers run through the converter chain; newer containers
// are refused.
const CurrentSchemaVersion = 3

// BackupType distinguishes full from partial dumps.
type BackupType string

const (
	BackupFull    BackupType = "full_backup"
	BackupPartial BackupType = "partial_backup"
)

// BackupData holds the exported graph content, arrays ordered by primary
// key so a round-trip is bytewise stable.
type BackupData struct {
	Concepts      []Concept      `json:"concepts"`
	Sources       []Source       `json:"sources"`
	Instances     []Instance     `json:"instances"`
	Relationships []Relationship `json:"relationships"`
	DocumentMeta  []DocumentMeta `json:"document_meta"`
	Ontologies    []Ontology     `json:"ontologies"`
}

// BackupStatistics summarises the contents of a dump.
type BackupStatistics struct {
	ConceptCount      int `json:"concept_count"`
	SourceCount       int `json:"source_count"`
	InstanceCount     int `json:"instance_count"`
	RelationshipCount int `json:"relationship_count"`
	DocumentCount     int `json:"document_count"`
	OntologyCount     int `json:"ontology_count"`
}

// Backup is the self-describing JSON container.
type Backup struct {
	Version       string           `json:"version"`
	SchemaVersion int              `json:"schema_version"`
	Type          BackupType       `json:"type"`
	Timestamp     time.Time        `json:"timestamp"`
	Ontology      string           `json:"ontology,omitempty"` // Set for partial backups
	Data          BackupData       `json:"data"`
	Statistics    BackupStatistics `json:"statistics"`
}

// ComputeStatistics recounts the data arrays.
func (b *Backup) ComputeStatistics() {
	b.Statistics = BackupStatistics{
		ConceptCount:      len(b.Data.Concepts),
		SourceCount:       len(b.Data.Sources),
		InstanceCount:     len(b.Data.Instances),
		RelationshipCount: len(b.Data.Relationships),
		DocumentCount:     len(b.Data.DocumentMeta),
		OntologyCount:     len(b.Data.Ontologies),
	}
}

// RestoreReport is the terminal payload of a restore job.
type RestoreReport struct {
	Restored       BackupStatistics `json:"restored"`
	SchemaVersion  int              `json:"schema_version"`
	Converted      bool             `json:"converted"`
	Partial        bool             `json:"partial"`
	RollbackReason string           `json:"rollback_reason,omitempty"`
}
