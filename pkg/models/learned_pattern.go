package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known pattern types. Other values are allowed.
const (
	PatternTypeEntity       = "entity"
	PatternTypeRelationship = "relationship"
	PatternTypeQueryIntent  = "query_intent"
	PatternTypeTerminology  = "terminology"
)

// LearnedPattern is an accumulated heuristic observation.
// Empty SchemaScope or TableScope means the pattern is global on that axis.
type LearnedPattern struct {
	ID          uuid.UUID      `json:"id"`
	PatternType string         `json:"pattern_type"`
	SchemaScope string         `json:"schema_scope,omitempty"`
	TableScope  string         `json:"table_scope,omitempty"`
	Payload     map[string]any `json:"payload"`
	Confidence  float64        `json:"confidence"`
	UsageCount  int64          `json:"usage_count"`
	LastUsedAt  *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PatternObservation is one sighting of a pattern.
type PatternObservation struct {
	PatternType     string         `json:"pattern_type"`
	SchemaScope     string         `json:"schema_scope,omitempty"`
	TableScope      string         `json:"table_scope,omitempty"`
	Payload         map[string]any `json:"payload"`
	ConfidenceDelta float64        `json:"confidence_delta"`
}
