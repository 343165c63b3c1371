package models

import "time"

// EmbeddingRecord is one indexed source row. ID is derived from
// (schema, table, primary key) so re-indexing a row overwrites it in place.
type EmbeddingRecord struct {
	ID         string         `json:"id"`
	SchemaName string         `json:"schema_name"`
	TableName  string         `json:"table_name"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ScoredRecord is an EmbeddingRecord with its cosine similarity to a query.
// Similarity is the raw value 1 - cosine distance.
type ScoredRecord struct {
	Record     *EmbeddingRecord
	Similarity float64
}

// EmbeddingStats summarizes the vector store contents.
type EmbeddingStats struct {
	TotalRecords   int64            `json:"total_records"`
	ZeroVectors    int64            `json:"zero_vectors"`
	RecordsByTable map[string]int64 `json:"records_by_table"`
	LastUpdatedAt  *time.Time       `json:"last_updated_at,omitempty"`
}
