package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	job       interfaces.JobStorage
	artifact  interfaces.ArtifactStorage
	queryDef  interfaces.QueryDefinitionStorage
	auth      interfaces.AuthStorage
	oauth     interfaces.OAuthStorage
	metrics   interfaces.MetricsStorage
	scheduled interfaces.ScheduledJobStorage
	migration interfaces.MigrationStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		job:       NewJobStorage(db, logger),
		artifact:  NewArtifactStorage(db, logger),
		queryDef:  NewQueryDefinitionStorage(db, logger),
		auth:      NewAuthStorage(db, logger),
		oauth:     NewOAuthStorage(db, logger),
		metrics:   NewMetricsStorage(db, logger),
		scheduled: NewScheduledJobStorage(db, logger),
		migration: NewMigrationStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// ArtifactStorage returns the Artifact storage interface
func (m *Manager) ArtifactStorage() interfaces.ArtifactStorage {
	return m.artifact
}

// QueryDefinitionStorage returns the QueryDefinition storage interface
func (m *Manager) QueryDefinitionStorage() interfaces.QueryDefinitionStorage {
	return m.queryDef
}

// AuthStorage returns the Auth storage interface
func (m *Manager) AuthStorage() interfaces.AuthStorage {
	return m.auth
}

// OAuthStorage returns the OAuth storage interface
func (m *Manager) OAuthStorage() interfaces.OAuthStorage {
	return m.oauth
}

// MetricsStorage returns the Metrics storage interface
func (m *Manager) MetricsStorage() interfaces.MetricsStorage {
	return m.metrics
}

// ScheduledJobStorage returns the ScheduledJob storage interface
func (m *Manager) ScheduledJobStorage() interfaces.ScheduledJobStorage {
	return m.scheduled
}

// MigrationStorage returns the Migration storage interface
func (m *Manager) MigrationStorage() interfaces.MigrationStorage {
	return m.migration
}

// DB returns the underlying *BadgerDB connection; callers that need the
// raw handle (the graph stores share it) assert the concrete type
func (m *Manager) DB() interface{} {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
