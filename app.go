package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-sync/pkg/config"
	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/embedding"
	"github.com/ekaya-inc/ekaya-sync/pkg/logging"
	"github.com/ekaya-inc/ekaya-sync/pkg/notifier"
	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sync/pkg/services"
	"github.com/ekaya-inc/ekaya-sync/pkg/vectorstore"
)

// embeddingCacheSize bounds the query embedding cache.
const embeddingCacheSize = 1024

// app holds the wired services shared by the commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	redis  *redis.Client

	store     vectorstore.Store
	changeLog repositories.ChangeLogRepository

	registry  services.SchemaRegistryService
	tracker   services.SyncTrackerService
	patterns  services.PatternService
	searchLog services.SearchLogService
	search    services.SearchService
	ingest    services.IngestService
	analyzer  services.SchemaAnalyzerService
	reindex   services.ReindexService
	retention services.RetentionService
}

// appOptions selects optional startup steps.
type appOptions struct {
	// Migrate applies pending migrations before the vector index is checked.
	Migrate bool
	// Redis connects the change-event relay when a host is configured.
	Redis bool
}

// newApp connects to the engine database and wires every service.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Error("Failed to connect to database",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db}

	if opts.Migrate {
		sqlDB := db.OpenSQL()
		err := database.RunMigrations(sqlDB, logger)
		_ = sqlDB.Close()
		if err != nil {
			a.close()
			return nil, err
		}
	}

	if opts.Redis {
		a.redis, err = database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.store, err = newStore(ctx, cfg, db, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	catalog := postgres.NewCatalog(db, logger)
	triggers := notifier.NewTriggerManager(db, cfg.Notifier.Channel, logger)
	a.changeLog = repositories.NewChangeLogRepository(db)

	a.registry = services.NewSchemaRegistryService(
		repositories.NewManagedSchemaRepository(db),
		repositories.NewSyncStatusRepository(db),
		catalog,
		a.store,
		logger,
	)
	a.tracker = services.NewSyncTrackerService(repositories.NewSyncStatusRepository(db), triggers, db, logger)
	a.patterns = services.NewPatternService(repositories.NewLearnedPatternRepository(db), logger)
	a.searchLog = services.NewSearchLogService(repositories.NewSearchLogRepository(db), logger)

	engine := services.NewHybridSearchEngine(a.registry, embedder, a.store, services.SearchLimits{
		Default: cfg.Search.DefaultLimit,
		Max:     cfg.Search.MaxLimit,
	}, logger)
	a.search = services.NewSearchService(engine, a.searchLog, a.patterns, cfg.Search.Timeout, logger)

	a.ingest = services.NewIngestService(a.registry, a.tracker, catalog, embedder, a.store, services.IngestConfig{
		BatchSize:  cfg.Sync.BatchSize,
		MaxWorkers: cfg.Sync.MaxWorkers,
	}, logger)
	a.analyzer = services.NewSchemaAnalyzerService(a.registry, a.tracker, a.patterns, catalog, logger)
	a.reindex = services.NewReindexService(a.tracker, catalog, embedder, a.store, logger)
	a.retention = services.NewRetentionService(a.changeLog, a.searchLog, services.RetentionConfig{
		ChangeLog: hours(cfg.Notifier.RetentionHours),
		SearchLog: days(cfg.Search.LogRetentionDays),
	}, logger)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// newStore returns the configured vector store backend.
func newStore(ctx context.Context, cfg *config.Config, db *database.DB, logger *zap.Logger) (vectorstore.Store, error) {
	opts := vectorstore.Options{
		Dimension:          cfg.Vector.Dimension,
		ExactScanThreshold: cfg.Vector.ExactScanThreshold,
		HNSWM:              cfg.Vector.HNSWM,
		HNSWEfConstruction: cfg.Vector.HNSWEfConstruction,
		HNSWEfSearch:       cfg.Vector.HNSWEfSearch,
		IterativeScan:      cfg.Vector.IterativeScan,
	}

	switch cfg.Vector.Backend {
	case "memory":
		logger.Warn("Using in-memory vector store; embeddings are lost on restart")
		return vectorstore.NewMemoryStore(opts), nil
	default:
		store := vectorstore.NewPGStore(db, opts, logger)
		if err := store.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
}

// newEmbedder returns the configured embedder wrapped in a query cache.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	var base embedding.Embedder
	switch cfg.Embedding.Provider {
	case "hash":
		base = embedding.NewHashEmbedder(cfg.Vector.Dimension)
	default:
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Vector.Dimension,
			BatchSize: cfg.Embedding.BatchSize,
			Timeout:   cfg.Embedding.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		base = e
	}
	return embedding.NewCachingEmbedder(base, embeddingCacheSize), nil
}

func hours(n int) time.Duration { return time.Duration(n) * time.Hour }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
