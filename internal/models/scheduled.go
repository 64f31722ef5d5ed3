package models

import "time"

// Known launcher names registered with the scheduled-jobs dispatcher.
const (
	LauncherCategoryRefresh    = "category_refresh"
	LauncherVocabConsolidation = "vocabulary_consolidation"
	LauncherProjectionRefresh  = "projection_refresh"
	LauncherEpistemicRemeasure = "epistemic_remeasurement"
	LauncherArtifactCleanup    = "artifact_cleanup"
	LauncherOntologyAnnealing  = "ontology_annealing"
)

// ScheduledJob is one row in the dispatcher table. The dispatcher tick
// invokes the named launcher when now >= NextRun, then recomputes NextRun
// from the cron expression.
type ScheduledJob struct {
	Name         string     `json:"name" badgerhold:"key"`
	Launcher     string     `json:"launcher"`
	ScheduleCron string     `json:"schedule_cron"`
	Enabled      bool       `json:"enabled"`
	MaxRetries   int        `json:"max_retries"`
	RetryCount   int        `json:"retry_count"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// GraphMetric is a named counter row. graph_change_counter is the composite
// snapshot; the rest are category counters and launcher watermarks.
type GraphMetric struct {
	Name      string    `json:"name" badgerhold:"key"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counter names recorded in the graph_metrics table.
const (
	MetricGraphChangeCounter       = "graph_change_counter"
	MetricConceptCount             = "concept_count"
	MetricTotalEdges               = "total_edges"
	MetricVocabularyTypeCount      = "vocabulary_type_count"
	MetricSourceCount              = "source_count"
	MetricInstanceCount            = "instance_count"
	MetricDocumentIngestionCounter = "document_ingestion_counter"
	MetricVocabularyChangeCounter  = "vocabulary_change_counter"
	MetricLastAnnealingEpoch       = "last_annealing_epoch"
	MetricLastBreathingEpoch       = "last_breathing_epoch"
	MetricLastEpistemicMeasure     = "last_epistemic_measurement"
)

// SchemaMigration records an applied migration. On startup the runtime
// refuses to serve if the recorded number is older than the build expects.
type SchemaMigration struct {
	Number    int       `json:"number" badgerhold:"key"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}
