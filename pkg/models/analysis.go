package models

import "time"

// TableAnalysis is the heuristic classification of one table.
type TableAnalysis struct {
	TableName         string       `json:"table_name"`
	EntityName        string       `json:"entity_name"`
	EntityType        string       `json:"entity_type"`
	EstimatedRows     int64        `json:"estimated_rows"`
	PrimaryKey        []string     `json:"primary_key,omitempty"`
	ForeignKeys       []ForeignKey `json:"foreign_keys,omitempty"`
	SearchableColumns []string     `json:"searchable_columns,omitempty"`
	DisplayColumns    []string     `json:"display_columns,omitempty"`
}

// Relationship is a foreign key between two tables of a schema.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// SchemaAnalysis is the result of analyzing a managed schema.
type SchemaAnalysis struct {
	SchemaName     string              `json:"schema_name"`
	BusinessDomain string              `json:"business_domain"`
	Tables         []*TableAnalysis    `json:"tables"`
	Relationships  []Relationship      `json:"relationships"`
	Terminology    map[string][]string `json:"terminology,omitempty"`
	TotalRows      int64               `json:"total_rows"`
	AnalyzedAt     time.Time           `json:"analyzed_at"`
}
