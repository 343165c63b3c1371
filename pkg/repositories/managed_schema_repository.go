package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// ManagedSchemaRepository provides data access for registered schemas.
type ManagedSchemaRepository interface {
	// Upsert registers a schema or updates the descriptive fields of an
	// existing one. New schemas start inactive. Reports whether a row was created.
	Upsert(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, bool, error)
	// Create registers a new schema and fails with ErrAlreadyRegistered on duplicates.
	Create(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, error)
	GetByName(ctx context.Context, schemaName string) (*models.ManagedSchema, error)
	List(ctx context.Context, activeOnly bool) ([]*models.ManagedSchema, error)
	SetActive(ctx context.Context, schemaName string, active bool) error
	RecordSyncSummary(ctx context.Context, schemaName string, totalTables int, totalRows int64, syncedAt time.Time) error
	MergeLearnedPatterns(ctx context.Context, schemaName string, patterns map[string]any) error
}

type managedSchemaRepository struct {
	db *database.DB
}

// NewManagedSchemaRepository creates a ManagedSchemaRepository.
func NewManagedSchemaRepository(db *database.DB) ManagedSchemaRepository {
	return &managedSchemaRepository{db: db}
}

var _ ManagedSchemaRepository = (*managedSchemaRepository)(nil)

const managedSchemaColumns = `
	id, schema_name, display_name, description, business_domain, is_active,
	metadata, learned_patterns, total_tables, total_rows,
	discovered_at, last_synced_at, created_at, updated_at`

func (r *managedSchemaRepository) Upsert(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, bool, error) {
	metadataJSON, err := marshalJSONB(req.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	// xmax is 0 only for freshly inserted tuples.
	query := `
		INSERT INTO engine_managed_schemas (schema_name, display_name, description, business_domain, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schema_name) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), engine_managed_schemas.display_name),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), engine_managed_schemas.description),
			business_domain = COALESCE(NULLIF(EXCLUDED.business_domain, ''), engine_managed_schemas.business_domain),
			metadata = engine_managed_schemas.metadata || EXCLUDED.metadata,
			updated_at = now()
		RETURNING ` + managedSchemaColumns + `, (xmax = 0) AS inserted`

	row := r.db.Querier(ctx).QueryRow(ctx, query,
		req.SchemaName, req.DisplayName, req.Description, req.BusinessDomain, metadataJSON)

	var inserted bool
	s, err := scanManagedSchema(row, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert managed schema: %w", err)
	}
	return s, inserted, nil
}

func (r *managedSchemaRepository) Create(ctx context.Context, req *models.RegisterSchemaRequest) (*models.ManagedSchema, error) {
	metadataJSON, err := marshalJSONB(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO engine_managed_schemas (schema_name, display_name, description, business_domain, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + managedSchemaColumns

	row := r.db.Querier(ctx).QueryRow(ctx, query,
		req.SchemaName, req.DisplayName, req.Description, req.BusinessDomain, metadataJSON)

	s, err := scanManagedSchema(row)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrAlreadyRegistered, req.SchemaName)
		}
		return nil, fmt.Errorf("failed to create managed schema: %w", err)
	}
	return s, nil
}

func (r *managedSchemaRepository) GetByName(ctx context.Context, schemaName string) (*models.ManagedSchema, error) {
	query := `SELECT ` + managedSchemaColumns + ` FROM engine_managed_schemas WHERE schema_name = $1`

	s, err := scanManagedSchema(r.db.Querier(ctx).QueryRow(ctx, query, schemaName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, schemaName)
		}
		return nil, fmt.Errorf("failed to get managed schema: %w", err)
	}
	return s, nil
}

func (r *managedSchemaRepository) List(ctx context.Context, activeOnly bool) ([]*models.ManagedSchema, error) {
	query := `SELECT ` + managedSchemaColumns + ` FROM engine_managed_schemas`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY schema_name`

	rows, err := r.db.Querier(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed schemas: %w", err)
	}
	defer rows.Close()

	var schemas []*models.ManagedSchema
	for rows.Next() {
		s, err := scanManagedSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan managed schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating managed schemas: %w", err)
	}

	return schemas, nil
}

func (r *managedSchemaRepository) SetActive(ctx context.Context, schemaName string, active bool) error {
	query := `
		UPDATE engine_managed_schemas
		SET is_active = $2, updated_at = now()
		WHERE schema_name = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, schemaName, active)
	if err != nil {
		return fmt.Errorf("failed to update managed schema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, schemaName)
	}
	return nil
}

func (r *managedSchemaRepository) RecordSyncSummary(ctx context.Context, schemaName string, totalTables int, totalRows int64, syncedAt time.Time) error {
	query := `
		UPDATE engine_managed_schemas
		SET total_tables = $2, total_rows = $3, last_synced_at = $4, updated_at = now()
		WHERE schema_name = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, schemaName, totalTables, totalRows, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to record sync summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, schemaName)
	}
	return nil
}

// MergeLearnedPatterns merges top-level keys in SQL so concurrent merges of
// different keys never overwrite each other.
func (r *managedSchemaRepository) MergeLearnedPatterns(ctx context.Context, schemaName string, patterns map[string]any) error {
	patternsJSON, err := marshalJSONB(patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal learned patterns: %w", err)
	}

	query := `
		UPDATE engine_managed_schemas
		SET learned_patterns = learned_patterns || $2::jsonb, updated_at = now()
		WHERE schema_name = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, schemaName, patternsJSON)
	if err != nil {
		return fmt.Errorf("failed to merge learned patterns: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, schemaName)
	}
	return nil
}

func scanManagedSchema(row pgx.Row, extra ...any) (*models.ManagedSchema, error) {
	var s models.ManagedSchema
	var metadataJSON, patternsJSON []byte

	dest := []any{
		&s.ID, &s.SchemaName, &s.DisplayName, &s.Description, &s.BusinessDomain, &s.IsActive,
		&metadataJSON, &patternsJSON, &s.TotalTables, &s.TotalRows,
		&s.DiscoveredAt, &s.LastSyncedAt, &s.CreatedAt, &s.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	unmarshalJSONB(metadataJSON, &s.Metadata)
	unmarshalJSONB(patternsJSON, &s.LearnedPatterns)
	return &s, nil
}
