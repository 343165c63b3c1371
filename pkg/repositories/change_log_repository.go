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

// ChangeLogRepository reads the change outbox written by the data change
// trigger and stores listener cursors.
type ChangeLogRepository interface {
	// ListAfter returns up to limit events with seq > afterSeq in seq order.
	ListAfter(ctx context.Context, afterSeq int64, limit int) ([]*models.ChangeEvent, error)
	Get(ctx context.Context, seq int64) (*models.ChangeEvent, error)
	GetCursor(ctx context.Context, listenerName string) (int64, error)
	// SaveCursor advances the cursor. It never moves backwards.
	SaveCursor(ctx context.Context, listenerName string, seq int64) error
	// Prune deletes entries created before cutoff that every listener has
	// already consumed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type changeLogRepository struct {
	db *database.DB
}

// NewChangeLogRepository creates a ChangeLogRepository.
func NewChangeLogRepository(db *database.DB) ChangeLogRepository {
	return &changeLogRepository{db: db}
}

var _ ChangeLogRepository = (*changeLogRepository)(nil)

func (r *changeLogRepository) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]*models.ChangeEvent, error) {
	query := `
		SELECT seq, operation, schema_name, table_name, row_data, created_at
		FROM engine_change_log
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`

	rows, err := r.db.Querier(ctx).Query(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change log: %w", err)
	}
	defer rows.Close()

	var events []*models.ChangeEvent
	for rows.Next() {
		e, err := scanChangeEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log: %w", err)
	}
	return events, nil
}

func (r *changeLogRepository) Get(ctx context.Context, seq int64) (*models.ChangeEvent, error) {
	query := `
		SELECT seq, operation, schema_name, table_name, row_data, created_at
		FROM engine_change_log
		WHERE seq = $1`

	e, err := scanChangeEvent(r.db.Querier(ctx).QueryRow(ctx, query, seq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: change log entry %d", apperrors.ErrNotFound, seq)
		}
		return nil, fmt.Errorf("failed to get change event: %w", err)
	}
	return e, nil
}

func (r *changeLogRepository) GetCursor(ctx context.Context, listenerName string) (int64, error) {
	var seq int64
	err := r.db.Querier(ctx).QueryRow(ctx,
		`SELECT last_seq FROM engine_listener_cursors WHERE listener_name = $1`, listenerName).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get listener cursor: %w", err)
	}
	return seq, nil
}

func (r *changeLogRepository) SaveCursor(ctx context.Context, listenerName string, seq int64) error {
	query := `
		INSERT INTO engine_listener_cursors (listener_name, last_seq)
		VALUES ($1, $2)
		ON CONFLICT (listener_name) DO UPDATE SET
			last_seq = GREATEST(engine_listener_cursors.last_seq, EXCLUDED.last_seq),
			updated_at = now()`

	if _, err := r.db.Querier(ctx).Exec(ctx, query, listenerName, seq); err != nil {
		return fmt.Errorf("failed to save listener cursor: %w", err)
	}
	return nil
}

func (r *changeLogRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM engine_change_log l
		WHERE l.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM engine_listener_cursors c WHERE c.last_seq < l.seq
		  )`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune change log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanChangeEvent(row pgx.Row) (*models.ChangeEvent, error) {
	var e models.ChangeEvent
	var rowData []byte
	if err := row.Scan(&e.Seq, &e.Operation, &e.Schema, &e.Table, &rowData, &e.Timestamp); err != nil {
		return nil, err
	}

	data, err := models.DecodeRow(rowData)
	if err != nil {
		return nil, err
	}
	if e.Operation == models.ChangeDelete {
		e.OldData = data
	} else {
		e.NewData = data
	}
	return &e, nil
}
