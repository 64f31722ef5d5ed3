package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewArtifactID generates a unique artifact ID with the "art_" prefix
func NewArtifactID() string {
	return "art_" + uuid.New().String()
}

// NewQueryDefinitionID generates a unique query definition ID with the "qd_" prefix
func NewQueryDefinitionID() string {
	return "qd_" + uuid.New().String()
}

// NewCheckpointID generates a unique checkpoint ID with the "chk_" prefix
func NewCheckpointID() string {
	return "chk_" + uuid.New().String()
}

// NewConceptID generates a unique concept ID with the "con_" prefix
func NewConceptID() string {
	return "con_" + uuid.New().String()
}

// NewSourceID generates a unique source ID with the "src_" prefix
func NewSourceID() string {
	return "src_" + uuid.New().String()
}

// NewInstanceID generates a unique instance ID with the "inst_" prefix
func NewInstanceID() string {
	return "inst_" + uuid.New().String()
}

// NewToken generates an opaque bearer token value
func NewToken() string {
	return uuid.New().String() + uuid.New().String()
}
