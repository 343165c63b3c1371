package models

import (
	"time"

	"github.com/google/uuid"
)

// SearchLogEntry records one retrieval request. Entries are append-only.
type SearchLogEntry struct {
	ID           uuid.UUID      `json:"id"`
	SessionID    string         `json:"session_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	QueryText    string         `json:"query_text"`
	QueryType    string         `json:"query_type,omitempty"`
	SchemaName   string         `json:"schema_name"`
	Tables       []string       `json:"tables,omitempty"`
	LatencyMs    int64          `json:"latency_ms"`
	ResultCount  int            `json:"result_count"`
	Success      bool           `json:"success"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SearchLogFilters narrows SearchLogEntry listings.
type SearchLogFilters struct {
	SchemaName string
	SessionID  string
	UserID     string
	Success    *bool
	Since      *time.Time
	Limit      int
}

// SearchLogStats aggregates search activity since a point in time.
type SearchLogStats struct {
	Since          time.Time `json:"since"`
	TotalSearches  int64     `json:"total_searches"`
	Failures       int64     `json:"failures"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	UniqueSessions int64     `json:"unique_sessions"`
}
