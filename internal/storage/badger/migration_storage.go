package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// MigrationStorage implements the MigrationStorage interface for Badger
type MigrationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMigrationStorage creates a new MigrationStorage instance
func NewMigrationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MigrationStorage {
	return &MigrationStorage{
		db:     db,
		logger: logger,
	}
}

// CurrentSchemaVersion returns the highest applied migration number, zero
// when no migration has been recorded.
func (s *MigrationStorage) CurrentSchemaVersion(ctx context.Context) (int, error) {
	migrations, err := s.ListMigrations(ctx)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, m := range migrations {
		if m.Number > highest {
			highest = m.Number
		}
	}
	return highest, nil
}

func (s *MigrationStorage) RecordMigration(ctx context.Context, migration *models.SchemaMigration) error {
	if err := s.db.Store().Upsert(migration.Number, *migration); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Number, err)
	}
	s.logger.Info().Int("number", migration.Number).Str("name", migration.Name).Msg("Schema migration recorded")
	return nil
}

func (s *MigrationStorage) ListMigrations(ctx context.Context) ([]*models.SchemaMigration, error) {
	var migrations []models.SchemaMigration
	if err := s.db.Store().Find(&migrations, (&badgerhold.Query{}).SortBy("Number")); err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	result := make([]*models.SchemaMigration, 0, len(migrations))
	for i := range migrations {
		result = append(result, &migrations[i])
	}
	return result, nil
}
