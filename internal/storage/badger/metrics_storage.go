package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// MetricsStorage implements the MetricsStorage interface for Badger. The
// mutex serialises read-modify-write increments; counter reads go straight
// to the store.
type MetricsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewMetricsStorage creates a new MetricsStorage instance
func NewMetricsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MetricsStorage {
	return &MetricsStorage{
		db:     db,
		logger: logger,
	}
}

// GetCounter returns the counter value; unknown counters read as zero.
func (s *MetricsStorage) GetCounter(ctx context.Context, name string) (int64, error) {
	var metric models.GraphMetric
	if err := s.db.Store().Get(name, &metric); err != nil {
		if err == badgerhold.ErrNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter %s: %w", name, err)
	}
	return metric.Value, nil
}

func (s *MetricsStorage) SetCounter(ctx context.Context, name string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metric := models.GraphMetric{
		Name:      name,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(name, metric); err != nil {
		return fmt.Errorf("failed to set counter %s: %w", name, err)
	}
	return nil
}

func (s *MetricsStorage) IncrementCounter(ctx context.Context, name string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metric models.GraphMetric
	err := s.db.Store().Get(name, &metric)
	if err != nil && err != badgerhold.ErrNotFound {
		return 0, fmt.Errorf("failed to get counter %s: %w", name, err)
	}

	metric.Name = name
	metric.Value += delta
	metric.UpdatedAt = time.Now().UTC()
	if err := s.db.Store().Upsert(name, metric); err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return metric.Value, nil
}

func (s *MetricsStorage) ListCounters(ctx context.Context) ([]*models.GraphMetric, error) {
	var metrics []models.GraphMetric
	if err := s.db.Store().Find(&metrics, (&badgerhold.Query{}).SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	result := make([]*models.GraphMetric, 0, len(metrics))
	for i := range metrics {
		result = append(result, &metrics[i])
	}
	return result, nil
}
