// Package postgres reads the catalog and rows of managed PostgreSQL schemas.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// qualifiedTableName returns a properly quoted table reference.
// If schemaName is empty, returns just the quoted table name.
func qualifiedTableName(schemaName, tableName string) string {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	if schemaName == "" {
		return quotedTable
	}
	return pgx.Identifier{schemaName}.Sanitize() + "." + quotedTable
}

// KeyColumn is one primary key column with its SQL type as rendered by
// format_type (e.g. "integer", "character varying(20)").
type KeyColumn struct {
	Name string
	Type string
}

// ScannedRow is a row read by ScanRows. Key holds the primary key values as
// text, in key order, and is the cursor for the next page.
type ScannedRow struct {
	Row models.Row
	Key []string
}

// Catalog introspects managed schemas in the engine database.
type Catalog struct {
	db     *database.DB
	logger *zap.Logger
}

// NewCatalog creates a Catalog.
func NewCatalog(db *database.DB, logger *zap.Logger) *Catalog {
	return &Catalog{
		db:     db,
		logger: logger.Named("catalog"),
	}
}

// ListTables returns the base tables of a schema with planner row estimates.
func (c *Catalog) ListTables(ctx context.Context, schemaName string) ([]models.CatalogTable, error) {
	const query = `
		SELECT
			c.relname,
			GREATEST(c.reltuples::bigint, 0) as estimated_rows
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relkind IN ('r', 'p')
		  AND NOT c.relispartition
		ORDER BY c.relname
	`

	rows, err := c.db.Query(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []models.CatalogTable
	for rows.Next() {
		t := models.CatalogTable{SchemaName: schemaName}
		if err := rows.Scan(&t.TableName, &t.EstimatedRows); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	return tables, nil
}

// Columns returns the columns of a table in ordinal order. Every column of a
// composite primary key is flagged.
func (c *Catalog) Columns(ctx context.Context, schemaName, tableName string) ([]models.CatalogColumn, error) {
	const query = `
		SELECT
			a.attname,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull as is_nullable,
			COALESCE(a.attnum = ANY(i.indkey), false) as is_primary_key,
			a.attnum
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum
	`

	rows, err := c.db.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.CatalogColumn
	for rows.Next() {
		var col models.CatalogColumn
		var position int16
		if err := rows.Scan(&col.ColumnName, &col.DataType, &col.IsNullable, &col.IsPrimaryKey, &position); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.OrdinalPosition = int(position)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	return columns, nil
}

// PrimaryKey returns the primary key columns of a table in key order.
// Returns an empty slice when the table has no primary key.
func (c *Catalog) PrimaryKey(ctx context.Context, schemaName, tableName string) ([]KeyColumn, error) {
	const query = `
		SELECT a.attname, format_type(a.atttypid, a.atttypmod)
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		CROSS JOIN LATERAL unnest(i.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
		WHERE i.indisprimary
		  AND n.nspname = $1
		  AND c.relname = $2
		ORDER BY k.ord
	`

	rows, err := c.db.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query primary key: %w", err)
	}
	defer rows.Close()

	var key []KeyColumn
	for rows.Next() {
		var k KeyColumn
		if err := rows.Scan(&k.Name, &k.Type); err != nil {
			return nil, fmt.Errorf("scan primary key column: %w", err)
		}
		key = append(key, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key: %w", err)
	}

	return key, nil
}

// ForeignKeys returns the single-column foreign keys declared on a table.
func (c *Catalog) ForeignKeys(ctx context.Context, schemaName, tableName string) ([]models.ForeignKey, error) {
	const query = `
		SELECT
			con.conname,
			a.attname as source_column,
			rn.nspname as target_schema,
			rc.relname as target_table,
			ra.attname as target_column
		FROM pg_constraint con
		JOIN pg_class c ON c.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class rc ON rc.oid = con.confrelid
		JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = con.conkey[1]
		JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = con.confkey[1]
		WHERE con.contype = 'f'
		  AND n.nspname = $1
		  AND c.relname = $2
		  AND array_length(con.conkey, 1) = 1  -- Single-column FKs only
		ORDER BY con.conname
	`

	rows, err := c.db.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []models.ForeignKey
	for rows.Next() {
		var fk models.ForeignKey
		if err := rows.Scan(&fk.ConstraintName, &fk.Column, &fk.RefSchema, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	return fks, nil
}

// ScanRows reads up to limit rows ordered by primary key, starting after the
// key in after (nil for the first page). Rows are read as to_jsonb so values
// match the row images produced by the change trigger.
func (c *Catalog) ScanRows(ctx context.Context, schemaName, tableName string, key []KeyColumn, after []string, limit int) ([]ScannedRow, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("table %s.%s has no primary key", schemaName, tableName)
	}
	if after != nil && len(after) != len(key) {
		return nil, fmt.Errorf("cursor has %d values, key has %d columns", len(after), len(key))
	}

	query, args := buildScanQuery(schemaName, tableName, key, after, limit)

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s.%s: %w", schemaName, tableName, err)
	}
	defer rows.Close()

	var out []ScannedRow
	for rows.Next() {
		var raw []byte
		var keyText []string
		if err := rows.Scan(&raw, &keyText); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row, err := models.DecodeRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ScannedRow{Row: row, Key: keyText})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}

func buildScanQuery(schemaName, tableName string, key []KeyColumn, after []string, limit int) (string, []any) {
	cols := make([]string, len(key))
	texts := make([]string, len(key))
	for i, k := range key {
		cols[i] = "t." + pgx.Identifier{k.Name}.Sanitize()
		texts[i] = cols[i] + "::text"
	}

	var args []any
	argIdx := 1
	var where string
	if after != nil {
		bounds := make([]string, len(key))
		for i, k := range key {
			bounds[i] = fmt.Sprintf("CAST($%d::text AS %s)", argIdx, k.Type)
			args = append(args, after[i])
			argIdx++
		}
		where = fmt.Sprintf("WHERE (%s) > (%s)", strings.Join(cols, ", "), strings.Join(bounds, ", "))
	}

	query := fmt.Sprintf(`
		SELECT to_jsonb(t), ARRAY[%s]
		FROM %s t
		%s
		ORDER BY %s
		LIMIT $%d
	`, strings.Join(texts, ", "), qualifiedTableName(schemaName, tableName), where, strings.Join(cols, ", "), argIdx)
	args = append(args, limit)

	return query, args
}

// RowKey extracts the primary key values of row in key order.
func RowKey(row models.Row, key []KeyColumn) ([]any, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("no primary key columns")
	}
	values := make([]any, len(key))
	for i, k := range key {
		v, ok := row[k.Name]
		if !ok || v == nil {
			return nil, fmt.Errorf("row is missing primary key column %q", k.Name)
		}
		values[i] = v
	}
	return values, nil
}
