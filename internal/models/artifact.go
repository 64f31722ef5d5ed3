package models

import (
	"encoding/json"
	"time"
)

// ArtifactType classifies what an artifact holds.
type ArtifactType string

const (
	ArtifactTypeProjection       ArtifactType = "projection"
	ArtifactTypePolarityAnalysis ArtifactType = "polarity_analysis"
	ArtifactTypeQueryResult      ArtifactType = "query_result"
	ArtifactTypeReport           ArtifactType = "report"
	ArtifactTypeIngestionReport  ArtifactType = "ingestion_report"
	ArtifactTypeStatsSnapshot    ArtifactType = "stats_snapshot"
	ArtifactTypeCheckpoint       ArtifactType = "checkpoint"
	ArtifactTypeBackup           ArtifactType = "backup"
)

// Artifact is a computed, persistable result. Exactly one of InlineResult or
// GarageKey is populated; payloads at or below the inline threshold stay in
// the metadata row, larger ones live in the blob store.
type Artifact struct {
	ID                string          `json:"id" badgerhold:"key"`
	ArtifactType      ArtifactType    `json:"artifact_type" badgerhold:"index"`
	Representation    string          `json:"representation,omitempty"`
	Name              string          `json:"name,omitempty"`
	OwnerID           int64           `json:"owner_id"` // 0 = system-owned
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	GraphEpoch        int64           `json:"graph_epoch"`
	InlineResult      json.RawMessage `json:"inline_result,omitempty"`
	GarageKey         string          `json:"garage_key,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	ConceptIDs        []string        `json:"concept_ids,omitempty"`
	Ontology          string          `json:"ontology,omitempty" badgerhold:"index"`
	QueryDefinitionID string          `json:"query_definition_id,omitempty"`
	Superseded        bool            `json:"superseded,omitempty"`
}

// HasInline reports whether the payload is stored in the metadata row.
func (a *Artifact) HasInline() bool {
	return len(a.InlineResult) > 0
}

// ArtifactMeta is the retrieval view of an artifact: the metadata row plus
// the freshness flag computed against the current graph change counter.
type ArtifactMeta struct {
	Artifact
	IsFresh bool `json:"is_fresh"`
}

// ArtifactFilter selects artifacts for listing.
type ArtifactFilter struct {
	OwnerID        int64 // 0 = any
	ArtifactType   ArtifactType
	Representation string
	Ontology       string
	Limit          int
	Offset         int
}

// QueryDefinitionType enumerates the reusable recipe kinds.
type QueryDefinitionType string

const (
	QueryDefinitionBlockDiagram QueryDefinitionType = "block_diagram"
	QueryDefinitionCypher       QueryDefinitionType = "cypher"
	QueryDefinitionSearch       QueryDefinitionType = "search"
	QueryDefinitionPolarity     QueryDefinitionType = "polarity"
	QueryDefinitionConnection   QueryDefinitionType = "connection"
	QueryDefinitionExploration  QueryDefinitionType = "exploration"
	QueryDefinitionProgram      QueryDefinitionType = "program"
)

// QueryDefinition is a reusable recipe whose execution produces an artifact
// linked back to it via Artifact.QueryDefinitionID.
type QueryDefinition struct {
	ID             string              `json:"id" badgerhold:"key"`
	Name           string              `json:"name" validate:"required"`
	OwnerID        int64               `json:"owner_id"`
	DefinitionType QueryDefinitionType `json:"definition_type" validate:"required"`
	Definition     json.RawMessage     `json:"definition" validate:"required"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}
