package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// SearchLogRepository provides append-only access to the search log.
type SearchLogRepository interface {
	Create(ctx context.Context, entry *models.SearchLogEntry) error
	List(ctx context.Context, filters models.SearchLogFilters) ([]*models.SearchLogEntry, int, error)
	Stats(ctx context.Context, since time.Time) (*models.SearchLogStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type searchLogRepository struct {
	db *database.DB
}

// NewSearchLogRepository creates a SearchLogRepository.
func NewSearchLogRepository(db *database.DB) SearchLogRepository {
	return &searchLogRepository{db: db}
}

var _ SearchLogRepository = (*searchLogRepository)(nil)

func (r *searchLogRepository) Create(ctx context.Context, entry *models.SearchLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Tables == nil {
		entry.Tables = []string{}
	}

	metadataJSON, err := marshalJSONB(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO engine_search_logs (
			id, session_id, user_id, query_text, query_type, schema_name, tables,
			latency_ms, result_count, success, error_message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`

	err = r.db.Querier(ctx).QueryRow(ctx, query,
		entry.ID,
		entry.SessionID,
		entry.UserID,
		entry.QueryText,
		entry.QueryType,
		entry.SchemaName,
		entry.Tables,
		entry.LatencyMs,
		entry.ResultCount,
		entry.Success,
		entry.ErrorMessage,
		metadataJSON,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create search log entry: %w", err)
	}

	return nil
}

func (r *searchLogRepository) List(ctx context.Context, filters models.SearchLogFilters) ([]*models.SearchLogEntry, int, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if filters.SchemaName != "" {
		conditions = append(conditions, fmt.Sprintf("schema_name = $%d", argIdx))
		args = append(args, filters.SchemaName)
		argIdx++
	}

	if filters.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", argIdx))
		args = append(args, filters.SessionID)
		argIdx++
	}

	if filters.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, filters.UserID)
		argIdx++
	}

	if filters.Success != nil {
		conditions = append(conditions, fmt.Sprintf("success = $%d", argIdx))
		args = append(args, *filters.Success)
		argIdx++
	}

	if filters.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filters.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Count
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM engine_search_logs WHERE %s`, where)
	var total int
	if err := r.db.Querier(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count search log entries: %w", err)
	}

	// Data
	dataQuery := fmt.Sprintf(`
		SELECT id, session_id, user_id, query_text, query_type, schema_name, tables,
		       latency_ms, result_count, success, error_message, metadata, created_at
		FROM engine_search_logs
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d`, where, argIdx)

	args = append(args, limit)

	rows, err := r.db.Querier(ctx).Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list search log entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.SearchLogEntry
	for rows.Next() {
		entry, err := scanSearchLogEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan search log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating search log entries: %w", err)
	}

	return entries, total, nil
}

func (r *searchLogRepository) Stats(ctx context.Context, since time.Time) (*models.SearchLogStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(AVG(latency_ms), 0)::float8,
			COUNT(DISTINCT NULLIF(session_id, ''))
		FROM engine_search_logs
		WHERE created_at >= $1`

	stats := &models.SearchLogStats{Since: since}
	err := r.db.Querier(ctx).QueryRow(ctx, query, since).Scan(
		&stats.TotalSearches,
		&stats.Failures,
		&stats.AvgLatencyMs,
		&stats.UniqueSessions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute search stats: %w", err)
	}
	return stats, nil
}

func (r *searchLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM engine_search_logs WHERE created_at < $1`
	tag, err := r.db.Querier(ctx).Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old search log entries: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanSearchLogEntry(row pgx.Row) (*models.SearchLogEntry, error) {
	var entry models.SearchLogEntry
	var metadataJSON []byte
	err := row.Scan(
		&entry.ID,
		&entry.SessionID,
		&entry.UserID,
		&entry.QueryText,
		&entry.QueryType,
		&entry.SchemaName,
		&entry.Tables,
		&entry.LatencyMs,
		&entry.ResultCount,
		&entry.Success,
		&entry.ErrorMessage,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	unmarshalJSONB(metadataJSON, &entry.Metadata)
	return &entry, nil
}
