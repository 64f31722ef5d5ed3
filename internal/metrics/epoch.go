// -----------------------------------------------------------------------
// Graph-change epoch - named counters backing artifact freshness and
// scheduled-launcher gating
// -----------------------------------------------------------------------

package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/models"
)

// EpochService owns the graph_metrics counter table. The composite
// graph_change_counter is a snapshot (the sum of current object counts),
// refreshed after ingestion completion, after direct graph mutation, and
// periodically as reconciliation.
type EpochService struct {
	storage interfaces.MetricsStorage
	graph   interfaces.GraphStore
	logger  arbor.ILogger

	epochGauge    prometheus.Gauge
	counterGauges *prometheus.GaugeVec
}

// NewEpochService creates the epoch service and registers its gauges.
func NewEpochService(storage interfaces.MetricsStorage, graphStore interfaces.GraphStore, registry *prometheus.Registry, logger arbor.ILogger) *EpochService {
	s := &EpochService{
		storage: storage,
		graph:   graphStore,
		logger:  logger,
		epochGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cognatio_graph_change_counter",
			Help: "Composite graph change counter (sum of current object counts).",
		}),
		counterGauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cognatio_graph_counter",
			Help: "Named graph counters.",
		}, []string{"name"}),
	}
	if registry != nil {
		registry.MustRegister(s.epochGauge, s.counterGauges)
	}
	return s
}

// Current returns the current graph_change_counter value.
func (s *EpochService) Current(ctx context.Context) (int64, error) {
	return s.storage.GetCounter(ctx, models.MetricGraphChangeCounter)
}

// Get returns a named counter value.
func (s *EpochService) Get(ctx context.Context, name string) (int64, error) {
	return s.storage.GetCounter(ctx, name)
}

// Set stores a named counter value (launcher watermarks).
func (s *EpochService) Set(ctx context.Context, name string, value int64) error {
	return s.storage.SetCounter(ctx, name, value)
}

// Increment bumps an application-incremented counter.
func (s *EpochService) Increment(ctx context.Context, name string, delta int64) error {
	value, err := s.storage.IncrementCounter(ctx, name, delta)
	if err != nil {
		return err
	}
	s.counterGauges.WithLabelValues(name).Set(float64(value))
	return nil
}

// Refresh recomputes the composite counter and the per-category counts
// from the graph census. Returns the new composite value.
func (s *EpochService) Refresh(ctx context.Context) (int64, error) {
	counts, err := s.graph.Counts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to take graph census: %w", err)
	}

	composite := counts.Total()
	if err := s.storage.SetCounter(ctx, models.MetricGraphChangeCounter, composite); err != nil {
		return 0, err
	}
	if err := s.storage.SetCounter(ctx, models.MetricConceptCount, counts.Concepts); err != nil {
		return 0, err
	}
	if err := s.storage.SetCounter(ctx, models.MetricTotalEdges, counts.Relationships); err != nil {
		return 0, err
	}
	if err := s.storage.SetCounter(ctx, models.MetricSourceCount, counts.Sources); err != nil {
		return 0, err
	}
	if err := s.storage.SetCounter(ctx, models.MetricInstanceCount, counts.Instances); err != nil {
		return 0, err
	}

	s.epochGauge.Set(float64(composite))
	s.counterGauges.WithLabelValues(models.MetricConceptCount).Set(float64(counts.Concepts))
	s.counterGauges.WithLabelValues(models.MetricTotalEdges).Set(float64(counts.Relationships))
	s.counterGauges.WithLabelValues(models.MetricSourceCount).Set(float64(counts.Sources))
	s.counterGauges.WithLabelValues(models.MetricInstanceCount).Set(float64(counts.Instances))

	s.logger.Debug().
		Int64("graph_change_counter", composite).
		Int64("concepts", counts.Concepts).
		Int64("relationships", counts.Relationships).
		Msg("Graph metrics refreshed")

	return composite, nil
}

// Delta returns current minus the recorded watermark for a gated launcher.
func (s *EpochService) Delta(ctx context.Context, currentName, watermarkName string) (int64, error) {
	current, err := s.storage.GetCounter(ctx, currentName)
	if err != nil {
		return 0, err
	}
	watermark, err := s.storage.GetCounter(ctx, watermarkName)
	if err != nil {
		return 0, err
	}
	return current - watermark, nil
}
