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

// SyncStatusRepository provides data access for per-table sync state.
// State changes are single conditional statements, so concurrent callers
// never both observe a successful transition.
type SyncStatusRepository interface {
	// Register creates a pending row for the table if none exists.
	Register(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	// Begin moves the table to running from any other state, creating the row
	// if needed. Returns ErrAlreadyRunning if it is already running.
	Begin(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	Complete(ctx context.Context, schemaName, tableName string, rowsSynced int64) (*models.SyncStatus, error)
	Fail(ctx context.Context, schemaName, tableName string, errorText string) (*models.SyncStatus, error)
	// Reset moves a failed table back to pending.
	Reset(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	// FailStale moves every table that has been running since before
	// startedBefore to failed. It releases claims left by crashed syncs.
	FailStale(ctx context.Context, startedBefore time.Time, errorText string) ([]*models.SyncStatus, error)
	// MarkFailed records an error against a table that is not running. A
	// running table returns ErrInvalidTransition.
	MarkFailed(ctx context.Context, schemaName, tableName string, errorText string) (*models.SyncStatus, error)
	SetRealtime(ctx context.Context, schemaName, tableName string, enabled bool) (*models.SyncStatus, error)
	Get(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error)
	ListBySchema(ctx context.Context, schemaName string) ([]*models.SyncStatus, error)
	ListRealtime(ctx context.Context) ([]*models.SyncStatus, error)
}

type syncStatusRepository struct {
	db *database.DB
}

// NewSyncStatusRepository creates a SyncStatusRepository.
func NewSyncStatusRepository(db *database.DB) SyncStatusRepository {
	return &syncStatusRepository{db: db}
}

var _ SyncStatusRepository = (*syncStatusRepository)(nil)

const syncStatusColumns = `
	id, schema_name, table_name, status, started_at, completed_at,
	rows_synced, last_error, realtime_enabled, created_at, updated_at`

func (r *syncStatusRepository) Register(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	// The no-op update makes RETURNING yield the existing row.
	query := `
		INSERT INTO engine_sync_status (schema_name, table_name)
		VALUES ($1, $2)
		ON CONFLICT (schema_name, table_name) DO UPDATE SET schema_name = EXCLUDED.schema_name
		RETURNING ` + syncStatusColumns

	s, err := scanSyncStatus(r.db.Querier(ctx).QueryRow(ctx, query, schemaName, tableName))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, schemaName)
		}
		return nil, fmt.Errorf("failed to register table: %w", err)
	}
	return s, nil
}

func (r *syncStatusRepository) Begin(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	query := `
		INSERT INTO engine_sync_status (schema_name, table_name, status, started_at)
		VALUES ($1, $2, 'running', now())
		ON CONFLICT (schema_name, table_name) DO UPDATE SET
			status = 'running',
			started_at = now(),
			completed_at = NULL,
			rows_synced = 0,
			last_error = NULL,
			updated_at = now()
		WHERE engine_sync_status.status <> 'running'
		RETURNING ` + syncStatusColumns

	s, err := scanSyncStatus(r.db.Querier(ctx).QueryRow(ctx, query, schemaName, tableName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s.%s", apperrors.ErrAlreadyRunning, schemaName, tableName)
		}
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, schemaName)
		}
		return nil, fmt.Errorf("failed to begin sync: %w", err)
	}
	return s, nil
}

func (r *syncStatusRepository) Complete(ctx context.Context, schemaName, tableName string, rowsSynced int64) (*models.SyncStatus, error) {
	query := `
		UPDATE engine_sync_status
		SET status = 'completed', completed_at = now(), rows_synced = $3, last_error = NULL, updated_at = now()
		WHERE schema_name = $1 AND table_name = $2 AND status = 'running'
		RETURNING ` + syncStatusColumns

	return r.transition(ctx, schemaName, tableName, models.SyncStatusCompleted, query, schemaName, tableName, rowsSynced)
}

func (r *syncStatusRepository) Fail(ctx context.Context, schemaName, tableName string, errorText string) (*models.SyncStatus, error) {
	query := `
		UPDATE engine_sync_status
		SET status = 'failed', completed_at = now(), last_error = $3, updated_at = now()
		WHERE schema_name = $1 AND table_name = $2 AND status = 'running'
		RETURNING ` + syncStatusColumns

	return r.transition(ctx, schemaName, tableName, models.SyncStatusFailed, query, schemaName, tableName, errorText)
}

func (r *syncStatusRepository) Reset(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	query := `
		UPDATE engine_sync_status
		SET status = 'pending', updated_at = now()
		WHERE schema_name = $1 AND table_name = $2 AND status = 'failed'
		RETURNING ` + syncStatusColumns

	return r.transition(ctx, schemaName, tableName, models.SyncStatusPending, query, schemaName, tableName)
}

func (r *syncStatusRepository) FailStale(ctx context.Context, startedBefore time.Time, errorText string) ([]*models.SyncStatus, error) {
	query := `
		UPDATE engine_sync_status
		SET status = 'failed', completed_at = now(), last_error = $2, updated_at = now()
		WHERE status = 'running' AND started_at < $1
		RETURNING ` + syncStatusColumns
	return r.list(ctx, query, startedBefore, errorText)
}

func (r *syncStatusRepository) MarkFailed(ctx context.Context, schemaName, tableName string, errorText string) (*models.SyncStatus, error) {
	query := `
		UPDATE engine_sync_status
		SET status = 'failed', last_error = $3, updated_at = now()
		WHERE schema_name = $1 AND table_name = $2 AND status <> 'running'
		RETURNING ` + syncStatusColumns

	return r.transition(ctx, schemaName, tableName, models.SyncStatusFailed, query, schemaName, tableName, errorText)
}

// transition runs a conditional update. When no row matched it tells a
// missing table apart from a table in the wrong state.
func (r *syncStatusRepository) transition(ctx context.Context, schemaName, tableName, target, query string, args ...any) (*models.SyncStatus, error) {
	s, err := scanSyncStatus(r.db.Querier(ctx).QueryRow(ctx, query, args...))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to move sync to %s: %w", target, err)
	}

	current, getErr := r.Get(ctx, schemaName, tableName)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s.%s is %s, cannot move to %s",
		apperrors.ErrInvalidTransition, schemaName, tableName, current.Status, target)
}

func (r *syncStatusRepository) SetRealtime(ctx context.Context, schemaName, tableName string, enabled bool) (*models.SyncStatus, error) {
	query := `
		INSERT INTO engine_sync_status (schema_name, table_name, realtime_enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (schema_name, table_name) DO UPDATE SET
			realtime_enabled = EXCLUDED.realtime_enabled,
			updated_at = now()
		RETURNING ` + syncStatusColumns

	s, err := scanSyncStatus(r.db.Querier(ctx).QueryRow(ctx, query, schemaName, tableName, enabled))
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotRegistered, schemaName)
		}
		return nil, fmt.Errorf("failed to set realtime: %w", err)
	}
	return s, nil
}

func (r *syncStatusRepository) Get(ctx context.Context, schemaName, tableName string) (*models.SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + ` FROM engine_sync_status WHERE schema_name = $1 AND table_name = $2`

	s, err := scanSyncStatus(r.db.Querier(ctx).QueryRow(ctx, query, schemaName, tableName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: sync status for %s.%s", apperrors.ErrNotFound, schemaName, tableName)
		}
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return s, nil
}

func (r *syncStatusRepository) ListBySchema(ctx context.Context, schemaName string) ([]*models.SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + `
		FROM engine_sync_status
		WHERE schema_name = $1
		ORDER BY table_name`
	return r.list(ctx, query, schemaName)
}

func (r *syncStatusRepository) ListRealtime(ctx context.Context) ([]*models.SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + `
		FROM engine_sync_status
		WHERE realtime_enabled
		ORDER BY schema_name, table_name`
	return r.list(ctx, query)
}

func (r *syncStatusRepository) list(ctx context.Context, query string, args ...any) ([]*models.SyncStatus, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync status: %w", err)
	}
	defer rows.Close()

	var statuses []*models.SyncStatus
	for rows.Next() {
		s, err := scanSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync status: %w", err)
	}
	return statuses, nil
}

func scanSyncStatus(row pgx.Row) (*models.SyncStatus, error) {
	var s models.SyncStatus
	err := row.Scan(
		&s.ID, &s.SchemaName, &s.TableName, &s.Status, &s.StartedAt, &s.CompletedAt,
		&s.RowsSynced, &s.LastError, &s.RealtimeEnabled, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
