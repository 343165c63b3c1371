package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-sync/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/embedding"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/vectorstore"
)

// IngestConfig controls bulk synchronization.
type IngestConfig struct {
	BatchSize  int
	MaxWorkers int
}

// SyncOptions modifies a sync run.
type SyncOptions struct {
	// Rebuild deletes the table's existing records before re-indexing, which
	// drops records of rows deleted while realtime sync was off.
	Rebuild bool
}

// IngestService bulk-indexes managed tables into the vector store.
type IngestService interface {
	// SyncTable indexes every row of one table. The table is claimed with
	// BeginSync; any failure, including cancellation, leaves it failed.
	SyncTable(ctx context.Context, schemaName, tableName string, opts SyncOptions) (*models.SyncResult, error)
	// SyncSchema syncs all tables of a schema concurrently and records the
	// schema summary. Per-table failures do not stop other tables.
	SyncSchema(ctx context.Context, schemaName string, opts SyncOptions) ([]*models.SyncResult, error)
}

type ingestService struct {
	registry SchemaRegistryService
	tracker  SyncTrackerService
	catalog  CatalogReader
	embedder embedding.Embedder
	store    vectorstore.Store
	cfg      IngestConfig
	logger   *zap.Logger
}

// NewIngestService creates an IngestService.
func NewIngestService(
	registry SchemaRegistryService,
	tracker SyncTrackerService,
	catalog CatalogReader,
	embedder embedding.Embedder,
	store vectorstore.Store,
	cfg IngestConfig,
	logger *zap.Logger,
) IngestService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	return &ingestService{
		registry: registry,
		tracker:  tracker,
		catalog:  catalog,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("ingest"),
	}
}

var _ IngestService = (*ingestService)(nil)

func (s *ingestService) SyncTable(ctx context.Context, schemaName, tableName string, opts SyncOptions) (*models.SyncResult, error) {
	if _, err := s.registry.Get(ctx, schemaName); err != nil {
		return nil, err
	}
	if _, err := s.tracker.BeginSync(ctx, schemaName, tableName); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := s.indexTable(ctx, schemaName, tableName, opts)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("sync cancelled: %w", err)
		}
		return nil, s.failSync(ctx, schemaName, tableName, err)
	}
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, s.failSync(ctx, schemaName, tableName, fmt.Errorf("sync cancelled: %w", err))
	}
	if _, err := s.tracker.CompleteSync(ctx, schemaName, tableName, result.RowsSynced); err != nil {
		return nil, s.failSync(ctx, schemaName, tableName, fmt.Errorf("failed to complete sync: %w", err))
	}

	s.logger.Info("Table synced",
		zap.String("schema", schemaName),
		zap.String("table", tableName),
		zap.Int64("rows", result.RowsSynced),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// failSync records cause on the tracker, even if ctx is done, and returns it
// wrapped in ErrSyncFailure.
func (s *ingestService) failSync(ctx context.Context, schemaName, tableName string, cause error) error {
	if _, err := s.tracker.FailSync(context.WithoutCancel(ctx), schemaName, tableName, cause); err != nil {
		s.logger.Error("Failed to mark sync failed",
			zap.String("schema", schemaName),
			zap.String("table", tableName),
			zap.Error(err))
	}
	return fmt.Errorf("%w: %s.%s: %w", apperrors.ErrSyncFailure, schemaName, tableName, cause)
}

func (s *ingestService) indexTable(ctx context.Context, schemaName, tableName string, opts SyncOptions) (*models.SyncResult, error) {
	key, err := s.catalog.PrimaryKey(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("table %s.%s has no primary key", schemaName, tableName)
	}

	if opts.Rebuild {
		deleted, err := s.store.DeleteTable(ctx, schemaName, tableName)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Cleared table records for rebuild",
			zap.String("schema", schemaName),
			zap.String("table", tableName),
			zap.Int64("deleted", deleted))
	}

	result := &models.SyncResult{SchemaName: schemaName, TableName: tableName}
	var after []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := s.catalog.ScanRows(ctx, schemaName, tableName, key, after, s.cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		rows := make([]models.Row, len(batch))
		for i, r := range batch {
			rows[i] = r.Row
		}
		indexed, skipped, err := indexRows(ctx, s.embedder, s.store, schemaName, tableName, key, rows)
		if err != nil {
			return nil, err
		}
		result.RowsSynced += int64(indexed)
		result.Skipped += int64(skipped)
		if skipped > 0 {
			s.logger.Warn("Skipped rows with invalid embeddings",
				zap.String("schema", schemaName),
				zap.String("table", tableName),
				zap.Int("skipped", skipped))
		}

		after = batch[len(batch)-1].Key
		if len(batch) < s.cfg.BatchSize {
			break
		}
	}
	return result, nil
}

// indexRows renders, embeds and upserts rows as one batch. Rows whose
// embedding fails validation are skipped and counted.
func indexRows(
	ctx context.Context,
	embedder embedding.Embedder,
	store vectorstore.Store,
	schemaName, tableName string,
	key []postgres.KeyColumn,
	rows []models.Row,
) (indexed, skipped int, err error) {
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = embedding.RenderRow(tableName, row)
	}

	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to embed rows: %w", err)
	}
	if len(vecs) != len(rows) {
		return 0, 0, fmt.Errorf("embedder returned %d vectors for %d rows", len(vecs), len(rows))
	}

	recs := make([]*models.EmbeddingRecord, 0, len(rows))
	for i, row := range rows {
		if err := embedding.Validate(vecs[i], store.Dimension()); err != nil {
			if errors.Is(err, apperrors.ErrDimensionMismatch) {
				return 0, 0, err
			}
			skipped++
			continue
		}
		rec, err := newRecord(schemaName, tableName, key, row, texts[i], vecs[i])
		if err != nil {
			return 0, 0, err
		}
		recs = append(recs, rec)
	}

	if len(recs) > 0 {
		if err := store.UpsertBatch(ctx, recs); err != nil {
			return 0, 0, err
		}
	}
	return len(recs), skipped, nil
}

// newRecord builds the record for a source row. The row's columns are the
// record metadata, so metadata filters match column values.
func newRecord(schemaName, tableName string, key []postgres.KeyColumn, row models.Row, content string, vec []float32) (*models.EmbeddingRecord, error) {
	keyValues, err := postgres.RowKey(row, key)
	if err != nil {
		return nil, err
	}
	return &models.EmbeddingRecord{
		ID:         vectorstore.RecordID(schemaName, tableName, keyValues),
		SchemaName: schemaName,
		TableName:  tableName,
		Content:    content,
		Embedding:  vec,
		Metadata:   map[string]any(row),
	}, nil
}

func (s *ingestService) SyncSchema(ctx context.Context, schemaName string, opts SyncOptions) ([]*models.SyncResult, error) {
	if _, err := s.registry.Get(ctx, schemaName); err != nil {
		return nil, err
	}

	tables, err := s.catalog.ListTables(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", schemaName, err)
	}

	var (
		mu      sync.Mutex
		results []*models.SyncResult
		errs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)
	for _, t := range tables {
		g.Go(func() error {
			res, err := s.SyncTable(gctx, schemaName, t.TableName, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			results = append(results, res)
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].TableName < results[j].TableName })

	var totalRows int64
	for _, r := range results {
		totalRows += r.RowsSynced
	}
	if err := s.registry.RecordSyncSummary(context.WithoutCancel(ctx), schemaName, len(tables), totalRows, time.Now()); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("Schema synced",
		zap.String("schema", schemaName),
		zap.Int("tables", len(tables)),
		zap.Int("failed", len(errs)),
		zap.Int64("rows", totalRows))
	return results, errors.Join(errs...)
}
