package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CatalogTable is a base table discovered in a managed schema.
type CatalogTable struct {
	SchemaName    string `json:"schema_name"`
	TableName     string `json:"table_name"`
	EstimatedRows int64  `json:"estimated_rows"`
}

// CatalogColumn is a column of a CatalogTable.
type CatalogColumn struct {
	ColumnName      string `json:"column_name"`
	DataType        string `json:"data_type"`
	IsNullable      bool   `json:"is_nullable"`
	IsPrimaryKey    bool   `json:"is_primary_key"`
	OrdinalPosition int    `json:"ordinal_position"`
}

// ForeignKey is a single-column foreign key reference.
type ForeignKey struct {
	ConstraintName string `json:"constraint_name"`
	Column         string `json:"column"`
	RefSchema      string `json:"ref_schema"`
	RefTable       string `json:"ref_table"`
	RefColumn      string `json:"ref_column"`
}

// Row is a source row keyed by column name.
type Row map[string]any

// DecodeRow decodes a to_jsonb row image. Numbers are kept as json.Number so
// large integer keys survive unchanged.
func DecodeRow(raw []byte) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row Row
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, nil
}
