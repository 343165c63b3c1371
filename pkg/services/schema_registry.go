package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sync/pkg/vectorstore"
)

// maxSchemaNameLength is PostgreSQL's identifier limit.
const maxSchemaNameLength = 63

// SchemaRegistryService manages the schemas the engine indexes.
type SchemaRegistryService interface {
	// Register creates the schema (inactive) or updates its descriptive
	// fields. With req.Unique set, an existing schema is an error.
	Register(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, error)
	Activate(ctx context.Context, schemaName string) error
	Deactivate(ctx context.Context, schemaName string) error
	Get(ctx context.Context, schemaName string) (*models.ManagedSchema, error)
	List(ctx context.Context, activeOnly bool) ([]*models.ManagedSchema, error)
	// IsActive reports whether the schema is registered and active. Unknown
	// schemas are simply inactive.
	IsActive(ctx context.Context, schemaName string) (bool, error)
	RecordSyncSummary(ctx context.Context, schemaName string, tableCount int, rowCount int64, syncedAt time.Time) error
	MergeLearnedPatterns(ctx context.Context, schemaName string, patterns map[string]any) error
	// TableInventory joins the catalog with sync state and embedding counts.
	TableInventory(ctx context.Context, schemaName string) (*models.SchemaInventory, error)
}

type schemaRegistryService struct {
	schemaRepo repositories.ManagedSchemaRepository
	syncRepo   repositories.SyncStatusRepository
	catalog    CatalogReader
	store      vectorstore.Store
	logger     *zap.Logger
}

// NewSchemaRegistryService creates a SchemaRegistryService.
func NewSchemaRegistryService(
	schemaRepo repositories.ManagedSchemaRepository,
	syncRepo repositories.SyncStatusRepository,
	catalog CatalogReader,
	store vectorstore.Store,
	logger *zap.Logger,
) SchemaRegistryService {
	return &schemaRegistryService{
		schemaRepo: schemaRepo,
		syncRepo:   syncRepo,
		catalog:    catalog,
		store:      store,
		logger:     logger.Named("schema-registry"),
	}
}

var _ SchemaRegistryService = (*schemaRegistryService)(nil)

func validateSchemaName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: schema name is required", apperrors.ErrInvalidArgument)
	}
	if len(name) > maxSchemaNameLength {
		return fmt.Errorf("%w: schema name %q exceeds %d characters", apperrors.ErrInvalidArgument, name, maxSchemaNameLength)
	}
	return nil
}

func (s *schemaRegistryService) Register(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, error) {
	if err := validateSchemaName(req.SchemaName); err != nil {
		return nil, err
	}

	if req.Unique {
		schema, err := s.schemaRepo.Create(ctx, req)
		if err != nil {
			if !errors.Is(err, apperrors.ErrAlreadyRegistered) {
				s.logger.Error("Failed to register schema",
					zap.String("schema", req.SchemaName),
					zap.Error(err))
			}
			return nil, err
		}
		s.logger.Info("Schema registered", zap.String("schema", req.SchemaName))
		return schema, nil
	}

	schema, created, err := s.schemaRepo.Upsert(ctx, req)
	if err != nil {
		s.logger.Error("Failed to register schema",
			zap.String("schema", req.SchemaName),
			zap.Error(err))
		return nil, err
	}
	if created {
		s.logger.Info("Schema registered", zap.String("schema", req.SchemaName))
	}
	return schema, nil
}

func (s *schemaRegistryService) Activate(ctx context.Context, schemaName string) error {
	return s.setActive(ctx, schemaName, true)
}

func (s *schemaRegistryService) Deactivate(ctx context.Context, schemaName string) error {
	return s.setActive(ctx, schemaName, false)
}

func (s *schemaRegistryService) setActive(ctx context.Context, schemaName string, active bool) error {
	if err := s.schemaRepo.SetActive(ctx, schemaName, active); err != nil {
		if !errors.Is(err, apperrors.ErrNotRegistered) {
			s.logger.Error("Failed to change schema activation",
				zap.String("schema", schemaName),
				zap.Bool("active", active),
				zap.Error(err))
		}
		return err
	}
	s.logger.Info("Schema activation changed",
		zap.String("schema", schemaName),
		zap.Bool("active", active))
	return nil
}

func (s *schemaRegistryService) Get(ctx context.Context, schemaName string) (*models.ManagedSchema, error) {
	return s.schemaRepo.GetByName(ctx, schemaName)
}

func (s *schemaRegistryService) List(ctx context.Context, activeOnly bool) ([]*models.ManagedSchema, error) {
	schemas, err := s.schemaRepo.List(ctx, activeOnly)
	if err != nil {
		s.logger.Error("Failed to list schemas", zap.Error(err))
		return nil, err
	}
	return schemas, nil
}

func (s *schemaRegistryService) IsActive(ctx context.Context, schemaName string) (bool, error) {
	schema, err := s.schemaRepo.GetByName(ctx, schemaName)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotRegistered) {
			return false, nil
		}
		return false, err
	}
	return schema.IsActive, nil
}

func (s *schemaRegistryService) RecordSyncSummary(ctx context.Context, schemaName string, tableCount int, rowCount int64, syncedAt time.Time) error {
	if err := s.schemaRepo.RecordSyncSummary(ctx, schemaName, tableCount, rowCount, syncedAt); err != nil {
		s.logger.Error("Failed to record sync summary",
			zap.String("schema", schemaName),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *schemaRegistryService) MergeLearnedPatterns(ctx context.Context, schemaName string, patterns map[string]any) error {
	if len(patterns) == 0 {
		return nil
	}
	if err := s.schemaRepo.MergeLearnedPatterns(ctx, schemaName, patterns); err != nil {
		s.logger.Error("Failed to merge learned patterns",
			zap.String("schema", schemaName),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *schemaRegistryService) TableInventory(ctx context.Context, schemaName string) (*models.SchemaInventory, error) {
	schema, err := s.schemaRepo.GetByName(ctx, schemaName)
	if err != nil {
		return nil, err
	}

	tables, err := s.catalog.ListTables(ctx, schemaName)
	if err != nil {
		s.logger.Error("Failed to list catalog tables", zap.String("schema", schemaName), zap.Error(err))
		return nil, fmt.Errorf("failed to list tables of %s: %w", schemaName, err)
	}

	statuses, err := s.syncRepo.ListBySchema(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	statusByTable := make(map[string]*models.SyncStatus, len(statuses))
	for _, st := range statuses {
		statusByTable[st.TableName] = st
	}

	counts, err := s.store.CountByTable(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings of %s: %w", schemaName, err)
	}

	inv := &models.SchemaInventory{Schema: schema}
	for _, t := range tables {
		item := &models.TableInventory{
			TableName:      t.TableName,
			EstimatedRows:  t.EstimatedRows,
			EmbeddingCount: counts[t.TableName],
			SyncStatus:     statusByTable[t.TableName],
		}

		cols, err := s.catalog.Columns(ctx, schemaName, t.TableName)
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s.%s: %w", schemaName, t.TableName, err)
		}
		item.ColumnCount = len(cols)
		for _, c := range cols {
			if c.IsPrimaryKey {
				item.PrimaryKey = append(item.PrimaryKey, c.ColumnName)
			}
		}

		fks, err := s.catalog.ForeignKeys(ctx, schemaName, t.TableName)
		if err != nil {
			return nil, fmt.Errorf("failed to read foreign keys of %s.%s: %w", schemaName, t.TableName, err)
		}
		item.ForeignKeys = fks

		inv.Tables = append(inv.Tables, item)
		inv.TotalEmbeddings += item.EmbeddingCount
		if item.SyncStatus != nil {
			if item.SyncStatus.Status == models.SyncStatusCompleted {
				inv.TablesSynced++
			}
			if item.SyncStatus.RealtimeEnabled {
				inv.TablesRealtime++
			}
		}
	}

	return inv, nil
}
