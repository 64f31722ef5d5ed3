// -----------------------------------------------------------------------
// Application composition root - wires storage, services and handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/artifacts"
	"github.com/ternarybob/cognatio/internal/auth"
	"github.com/ternarybob/cognatio/internal/backup"
	"github.com/ternarybob/cognatio/internal/checkpoint"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/graph"
	"github.com/ternarybob/cognatio/internal/handlers"
	"github.com/ternarybob/cognatio/internal/interfaces"
	"github.com/ternarybob/cognatio/internal/llm"
	"github.com/ternarybob/cognatio/internal/metrics"
	"github.com/ternarybob/cognatio/internal/pipeline"
	"github.com/ternarybob/cognatio/internal/progress"
	"github.com/ternarybob/cognatio/internal/query"
	"github.com/ternarybob/cognatio/internal/queue"
	"github.com/ternarybob/cognatio/internal/scheduler"
	badgerstore "github.com/ternarybob/cognatio/internal/storage/badger"
	"github.com/ternarybob/cognatio/internal/storage/blob"
)

// tokenSweepInterval is how often expired OAuth tokens and device codes
// are purged.
const tokenSweepInterval = time.Hour

// App holds all initialized application components
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	StorageManager  interfaces.StorageManager
	Blobs           *blob.FileStore
	Graph           interfaces.GraphStore
	VocabularyStore interfaces.VocabularyStore

	// Observability
	Registry *prometheus.Registry
	Epoch    *metrics.EpochService
	Broker   *progress.Broker

	// LLM providers
	Extractor interfaces.ConceptExtractor
	Embedder  interfaces.EmbeddingService

	// Services
	Queue           *queue.Manager
	QueueDispatcher *queue.Dispatcher
	Sweeper         *queue.Sweeper
	Scheduler       *scheduler.Dispatcher
	Kernel          *auth.Kernel
	Tokens          *auth.TokenService
	Vocabulary      *pipeline.Vocabulary
	Analyzer        *pipeline.Analyzer
	Artifacts       *artifacts.Store
	Backups         *backup.Service
	QueryExecutor   *query.Executor

	// Handlers
	IngestHandler     *handlers.IngestHandler
	JobHandler        *handlers.JobHandler
	ArtifactHandler   *handlers.ArtifactHandler
	QueryDefHandler   *handlers.QueryDefinitionHandler
	VocabularyHandler *handlers.VocabularyHandler
	GraphHandler      *handlers.GraphHandler
	AdminHandler      *handlers.AdminHandler
	OAuthHandler      *handlers.OAuthHandler
	SystemHandler     *handlers.SystemHandler

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an application instance with all services initialized and
// background loops running. Callers stop everything via Close.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: config,
		Logger: logger,
		done:   make(chan struct{}),
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		app.StorageManager.Close()
		return nil, err
	}
	app.initHandlers()

	if err := app.start(); err != nil {
		app.StorageManager.Close()
		return nil, err
	}

	logger.Info().Msg("Application initialized successfully")
	return app, nil
}

// initStorage opens the embedded database and the blob directory.
func (a *App) initStorage() error {
	manager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = manager

	// The graph stores share the manager's database handle
	db, ok := manager.DB().(*badgerstore.BadgerDB)
	if !ok {
		manager.Close()
		return fmt.Errorf("storage manager is not backed by BadgerDB (got %T)", manager.DB())
	}
	a.Graph = graph.NewBadgerGraph(db, a.Logger)
	a.VocabularyStore = graph.NewBadgerVocabulary(db, a.Logger)

	blobs, err := blob.NewFileStore(a.Logger, &a.Config.Storage.Blob)
	if err != nil {
		manager.Close()
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	a.Blobs = blobs

	return nil
}

// initServices builds the service graph bottom-up: providers, stores,
// queue, executors, scheduler, auth.
func (a *App) initServices() error {
	cfg := a.Config

	a.Registry = prometheus.NewRegistry()
	a.Epoch = metrics.NewEpochService(a.StorageManager.MetricsStorage(), a.Graph, a.Registry, a.Logger)
	a.Broker = progress.NewBroker(a.Logger)

	extractor, err := llm.NewClaudeExtractor(&cfg.Claude, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize concept extractor: %w", err)
	}
	a.Extractor = extractor

	embedder, err := llm.NewGeminiEmbedder(&cfg.Gemini, &cfg.Embedding, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding service: %w", err)
	}
	a.Embedder = embedder

	a.Artifacts = artifacts.NewStore(a.StorageManager.ArtifactStorage(), a.Blobs, a.Epoch, &cfg.Artifacts, a.Logger)
	a.Vocabulary = pipeline.NewVocabulary(a.VocabularyStore, a.Embedder, a.Epoch, cfg.Ingestion.MinTypeSimilarity, a.Logger)
	a.Analyzer = pipeline.NewAnalyzer(pipeline.NewChunker(cfg.Ingestion.ChunkSizeChars, cfg.Ingestion.ChunkOverlapChars))
	a.Backups = backup.NewService(a.Graph, a.Logger)
	a.QueryExecutor = query.NewExecutor(a.Graph, a.Embedder, a.Artifacts, cfg.Ingestion.MinSearchSimilarity, a.Logger)

	a.Queue = queue.NewManager(a.StorageManager.JobStorage(), a.Broker, &cfg.Queue, &cfg.Approval, a.Logger)
	a.QueueDispatcher = queue.NewDispatcher(a.Queue, cfg.Queue.MaxConcurrentWorkers, cfg.Queue.DispatchIntervalDuration(), a.Logger)

	a.QueueDispatcher.Register(pipeline.NewIngestionExecutor(
		a.Queue, a.Graph, a.Vocabulary, a.Extractor, a.Embedder,
		a.Artifacts, a.Epoch, &cfg.Ingestion, a.Logger))

	guard := checkpoint.NewGuard(a.Graph, a.Artifacts, a.Logger)
	a.QueueDispatcher.Register(backup.NewRestoreExecutor(a.Queue, a.Backups, guard, a.Blobs, a.Epoch, a.Logger))
	a.QueueDispatcher.Register(backup.NewBackupExecutor(a.Queue, a.Backups, a.Artifacts, a.Logger))

	maintenance := pipeline.NewMaintenance(
		a.Graph, a.VocabularyStore, a.Embedder, a.Artifacts,
		a.StorageManager.ArtifactStorage(), a.StorageManager.AuthStorage(),
		a.Blobs, a.Epoch, a.Logger)
	for _, executor := range maintenance.Executors() {
		a.QueueDispatcher.Register(executor)
	}

	a.Sweeper = queue.NewSweeper(a.Queue, &cfg.Queue, a.Logger)

	a.Scheduler = scheduler.NewDispatcher(a.StorageManager.ScheduledJobStorage(), a.Queue, cfg.Scheduler.TickIntervalDuration(), a.Logger)
	for _, launcher := range scheduler.NewLaunchers(a.Queue, a.Epoch, a.StorageManager.ArtifactStorage()) {
		a.Scheduler.Register(launcher)
	}

	a.Kernel = auth.NewKernel(a.StorageManager.AuthStorage(), a.Logger)
	a.Tokens = auth.NewTokenService(a.StorageManager.OAuthStorage(), a.StorageManager.AuthStorage(), &cfg.Auth, a.Logger)

	return nil
}

// initHandlers creates all HTTP handlers.
func (a *App) initHandlers() {
	cfg := a.Config

	a.IngestHandler = handlers.NewIngestHandler(a.Queue, a.Analyzer, a.Kernel, cfg.Server.MaxUploadBytes, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Queue, a.Broker, a.Kernel, &cfg.Streaming, a.Logger)
	a.ArtifactHandler = handlers.NewArtifactHandler(a.Artifacts, a.StorageManager.QueryDefinitionStorage(), a.QueryExecutor, a.Kernel, a.Logger)
	a.QueryDefHandler = handlers.NewQueryDefinitionHandler(a.StorageManager.QueryDefinitionStorage(), a.QueryExecutor, a.Kernel, a.Logger)
	a.VocabularyHandler = handlers.NewVocabularyHandler(a.VocabularyStore, a.Vocabulary, a.Kernel, a.Logger)
	a.GraphHandler = handlers.NewGraphHandler(a.Graph, a.Embedder, a.Kernel, &cfg.Ingestion, a.Logger)
	a.AdminHandler = handlers.NewAdminHandler(a.Backups, a.Queue, a.Blobs, a.StorageManager.ScheduledJobStorage(), a.Kernel, cfg.Server.MaxUploadBytes, a.Logger)
	a.OAuthHandler = handlers.NewOAuthHandler(a.Tokens, a.Logger)
	a.SystemHandler = handlers.NewSystemHandler(a.Graph, a.StorageManager.JobStorage(), a.Epoch, a.Logger)
}

// start seeds the schema, recovers interrupted work and launches the
// background loops.
func (a *App) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := auth.NewSeeder(a.StorageManager, a.Logger).Run(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to seed schema: %w", err)
	}

	recovered, err := a.Queue.RecoverLapsed(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to recover lapsed jobs")
	} else if recovered > 0 {
		a.Logger.Info().Int("recovered", recovered).Msg("Lapsed jobs reset to queued")
	}

	if swept, err := a.Blobs.SweepTemp(ctx, time.Now().UTC()); err != nil {
		a.Logger.Warn().Err(err).Msg("Startup temp blob sweep failed")
	} else if swept > 0 {
		a.Logger.Info().Int("swept", swept).Msg("Stale temp blobs removed at startup")
	}

	if db, ok := a.StorageManager.DB().(*badgerstore.BadgerDB); ok {
		db.StartGC(ctx, 10*time.Minute)
	}

	a.QueueDispatcher.Start(ctx)
	a.Sweeper.Start(ctx)
	if a.Config.Scheduler.Enabled {
		a.Scheduler.Start(ctx)
	} else {
		a.Logger.Info().Msg("Scheduler disabled by configuration")
	}

	go a.tokenSweepLoop(ctx)

	return nil
}

// tokenSweepLoop purges expired access tokens, refresh tokens and device
// codes on an hourly cadence.
func (a *App) tokenSweepLoop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept, err := a.Tokens.SweepExpiredTokens(ctx); err != nil {
				a.Logger.Warn().Err(err).Msg("Token sweep failed")
			} else if swept > 0 {
				a.Logger.Info().Int("swept", swept).Msg("Expired tokens purged")
			}
		}
	}
}

// Close stops background loops and releases storage. Safe to call once.
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.Config.Scheduler.Enabled && a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.QueueDispatcher != nil {
		a.QueueDispatcher.Stop()
	}
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
