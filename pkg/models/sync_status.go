package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync states. There is no terminal state: completed and failed tables can
// always be synced again.
const (
	SyncStatusPending   = "pending"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// SyncStatus tracks bulk synchronization of one table.
type SyncStatus struct {
	ID              uuid.UUID  `json:"id"`
	SchemaName      string     `json:"schema_name"`
	TableName       string     `json:"table_name"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RowsSynced      int64      `json:"rows_synced"`
	LastError       *string    `json:"last_error,omitempty"`
	RealtimeEnabled bool       `json:"realtime_enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsRunning reports whether a sync is in progress.
func (s *SyncStatus) IsRunning() bool {
	return s.Status == SyncStatusRunning
}

// SyncResult is returned by a completed table sync.
type SyncResult struct {
	SchemaName string        `json:"schema_name"`
	TableName  string        `json:"table_name"`
	RowsSynced int64         `json:"rows_synced"`
	Skipped    int64         `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}
