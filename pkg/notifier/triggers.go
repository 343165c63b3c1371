// Package notifier publishes row changes of managed tables and delivers them
// to in-process handlers.
//
// Changes are captured by a row trigger that appends to engine_change_log and
// issues pg_notify in the writing transaction. A Listener consumes the
// notifications on a dedicated connection and reconciles from the change log
// after every (re)connect, so delivery is at-least-once.
package notifier

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/database"
)

// DefaultChannel is the notification channel used when none is configured.
const DefaultChannel = "engine_data_change"

// TriggerName returns the name of the change trigger for a table.
func TriggerName(tableName string) string {
	return "engine_sync_" + tableName
}

// TriggerManager installs and removes change triggers on managed tables.
type TriggerManager struct {
	db      *database.DB
	channel string
	logger  *zap.Logger
}

// NewTriggerManager creates a TriggerManager publishing on channel.
func NewTriggerManager(db *database.DB, channel string, logger *zap.Logger) *TriggerManager {
	if channel == "" {
		channel = DefaultChannel
	}
	return &TriggerManager{
		db:      db,
		channel: channel,
		logger:  logger.Named("triggers"),
	}
}

// Install creates (or recreates) the change trigger on schema.table.
func (m *TriggerManager) Install(ctx context.Context, schemaName, tableName string) error {
	table := pq.QuoteIdentifier(schemaName) + "." + pq.QuoteIdentifier(tableName)
	trigger := pq.QuoteIdentifier(TriggerName(tableName))

	err := m.db.WithTx(ctx, func(ctx context.Context) error {
		q := m.db.Querier(ctx)
		if _, err := q.Exec(ctx, fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table)); err != nil {
			return err
		}
		create := fmt.Sprintf(`
			CREATE TRIGGER %s
			AFTER INSERT OR UPDATE OR DELETE ON %s
			FOR EACH ROW EXECUTE FUNCTION engine_notify_data_change(%s)`,
			trigger, table, pq.QuoteLiteral(m.channel))
		_, err := q.Exec(ctx, create)
		return err
	})
	if err != nil {
		m.logger.Error("Failed to install change trigger",
			zap.String("schema", schemaName),
			zap.String("table", tableName),
			zap.Error(err))
		return fmt.Errorf("failed to install change trigger on %s.%s: %w", schemaName, tableName, err)
	}

	m.logger.Info("Change trigger installed",
		zap.String("schema", schemaName),
		zap.String("table", tableName),
		zap.String("channel", m.channel))
	return nil
}

// Drop removes the change trigger from schema.table. Missing triggers and
// missing tables are ignored.
func (m *TriggerManager) Drop(ctx context.Context, schemaName, tableName string) error {
	table := pq.QuoteIdentifier(schemaName) + "." + pq.QuoteIdentifier(tableName)
	q := m.db.Querier(ctx)

	// A failed DROP would abort a surrounding transaction, so a missing table
	// is detected up front.
	var exists bool
	if err := q.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up %s.%s: %w", schemaName, tableName, err)
	}
	if !exists {
		return nil
	}

	stmt := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", pq.QuoteIdentifier(TriggerName(tableName)), table)
	if _, err := q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop change trigger on %s.%s: %w", schemaName, tableName, err)
	}

	m.logger.Info("Change trigger dropped",
		zap.String("schema", schemaName),
		zap.String("table", tableName))
	return nil
}

// Installed reports whether the change trigger exists on schema.table.
func (m *TriggerManager) Installed(ctx context.Context, schemaName, tableName string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM pg_trigger t
			JOIN pg_class c ON c.oid = t.tgrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2 AND t.tgname = $3
		)`

	var exists bool
	if err := m.db.Querier(ctx).QueryRow(ctx, query, schemaName, tableName, TriggerName(tableName)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check change trigger: %w", err)
	}
	return exists, nil
}
