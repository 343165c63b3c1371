package models

import (
	"time"

	"github.com/google/uuid"
)

// ManagedSchema is a database schema the engine indexes and keeps in sync.
// Schemas are never hard-deleted; deactivation hides them from search.
type ManagedSchema struct {
	ID              uuid.UUID      `json:"id"`
	SchemaName      string         `json:"schema_name"`
	DisplayName     string         `json:"display_name,omitempty"`
	Description     string         `json:"description,omitempty"`
	BusinessDomain  string         `json:"business_domain,omitempty"`
	IsActive        bool           `json:"is_active"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	LearnedPatterns map[string]any `json:"learned_patterns,omitempty"`
	TotalTables     int            `json:"total_tables"`
	TotalRows       int64          `json:"total_rows"`
	DiscoveredAt    time.Time      `json:"discovered_at"`
	LastSyncedAt    *time.Time     `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RegisterSchemaRequest describes a schema registration.
type RegisterSchemaRequest struct {
	SchemaName     string         `json:"schema_name"`
	DisplayName    string         `json:"display_name,omitempty"`
	Description    string         `json:"description,omitempty"`
	BusinessDomain string         `json:"business_domain,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// Unique makes registration fail with ErrAlreadyRegistered instead of
	// updating an existing schema.
	Unique bool `json:"unique,omitempty"`
}

// TableInventory is one table of a managed schema with its sync state.
type TableInventory struct {
	TableName      string         `json:"table_name"`
	EstimatedRows  int64          `json:"estimated_rows"`
	EmbeddingCount int64          `json:"embedding_count"`
	ColumnCount    int            `json:"column_count"`
	SyncStatus     *SyncStatus    `json:"sync_status,omitempty"`
	PrimaryKey     []string       `json:"primary_key,omitempty"`
	ForeignKeys    []ForeignKey   `json:"foreign_keys,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SchemaInventory aggregates TableInventory entries for one schema.
type SchemaInventory struct {
	Schema          *ManagedSchema    `json:"schema"`
	Tables          []*TableInventory `json:"tables"`
	TotalEmbeddings int64             `json:"total_embeddings"`
	TablesSynced    int               `json:"tables_synced"`
	TablesRealtime  int               `json:"tables_realtime"`
}
