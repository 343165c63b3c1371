package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/embedding"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/vectorstore"
)

// ReindexService applies change events to the vector store. It is the
// listener handler of serve and must stay idempotent.
type ReindexService interface {
	// Handle applies one event. Failures wrap ErrSyncFailure.
	Handle(ctx context.Context, event *models.ChangeEvent) error
	// RecordFailure marks the event's table failed when cause came from
	// Handle. Other causes, such as relay errors, are ignored.
	RecordFailure(ctx context.Context, event *models.ChangeEvent, cause error)
}

type reindexService struct {
	tracker  SyncTrackerService
	catalog  CatalogReader
	embedder embedding.Embedder
	store    vectorstore.Store
	logger   *zap.Logger

	mu   sync.RWMutex
	keys map[string][]postgres.KeyColumn
}

// NewReindexService creates a ReindexService.
func NewReindexService(
	tracker SyncTrackerService,
	catalog CatalogReader,
	embedder embedding.Embedder,
	store vectorstore.Store,
	logger *zap.Logger,
) ReindexService {
	return &reindexService{
		tracker:  tracker,
		catalog:  catalog,
		embedder: embedder,
		store:    store,
		logger:   logger.Named("reindex"),
		keys:     make(map[string][]postgres.KeyColumn),
	}
}

var _ ReindexService = (*reindexService)(nil)

func (s *reindexService) Handle(ctx context.Context, event *models.ChangeEvent) error {
	if err := s.handle(ctx, event); err != nil {
		return fmt.Errorf("%w: %s.%s seq %d: %w", apperrors.ErrSyncFailure, event.Schema, event.Table, event.Seq, err)
	}
	return nil
}

func (s *reindexService) RecordFailure(ctx context.Context, event *models.ChangeEvent, cause error) {
	if !errors.Is(cause, apperrors.ErrSyncFailure) {
		return
	}
	// Errors are logged by the tracker.
	_, _ = s.tracker.RecordRealtimeFailure(context.WithoutCancel(ctx), event.Schema, event.Table, cause)
}

func (s *reindexService) handle(ctx context.Context, event *models.ChangeEvent) error {
	status, err := s.tracker.Get(ctx, event.Schema, event.Table)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	if !status.RealtimeEnabled {
		return nil
	}

	row := event.Data()
	if row == nil {
		return fmt.Errorf("change event %d has no row data", event.Seq)
	}

	key, err := s.primaryKey(ctx, event.Schema, event.Table)
	if err != nil {
		return err
	}

	switch event.Operation {
	case models.ChangeDelete:
		keyValues, err := postgres.RowKey(row, key)
		if err != nil {
			return err
		}
		id := vectorstore.RecordID(event.Schema, event.Table, keyValues)
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		s.logger.Debug("Removed record",
			zap.Int64("seq", event.Seq),
			zap.String("id", id))

	case models.ChangeCreate, models.ChangeUpdate:
		indexed, skipped, err := indexRows(ctx, s.embedder, s.store, event.Schema, event.Table, key, []models.Row{row})
		if err != nil {
			return err
		}
		if skipped > 0 {
			s.logger.Warn("Skipped row with invalid embedding",
				zap.Int64("seq", event.Seq),
				zap.String("schema", event.Schema),
				zap.String("table", event.Table))
		}
		s.logger.Debug("Reindexed row",
			zap.Int64("seq", event.Seq),
			zap.String("operation", event.Operation),
			zap.Int("indexed", indexed))

	default:
		return fmt.Errorf("unknown change operation %q", event.Operation)
	}
	return nil
}

func (s *reindexService) primaryKey(ctx context.Context, schemaName, tableName string) ([]postgres.KeyColumn, error) {
	cacheKey := schemaName + "." + tableName

	s.mu.RLock()
	key, ok := s.keys[cacheKey]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	key, err := s.catalog.PrimaryKey(ctx, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("table %s.%s has no primary key", schemaName, tableName)
	}

	s.mu.Lock()
	s.keys[cacheKey] = key
	s.mu.Unlock()
	return key, nil
}
