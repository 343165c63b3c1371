package models

import "time"

// Change operations carried by a ChangeEvent.
const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// ChangeEvent describes a single row change in a managed table.
// NewData is set for create and update, OldData for delete.
type ChangeEvent struct {
	Seq       int64          `json:"seq"`
	Operation string         `json:"operation"`
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	Timestamp time.Time      `json:"timestamp"`
	NewData   map[string]any `json:"new_data,omitempty"`
	OldData   map[string]any `json:"old_data,omitempty"`
	// Truncated is set when the notification omitted row data because of the
	// payload size limit. The data must be loaded from the change log.
	Truncated bool `json:"truncated,omitempty"`
}

// Data returns the row image relevant to the operation.
func (e *ChangeEvent) Data() map[string]any {
	if e.Operation == ChangeDelete {
		return e.OldData
	}
	return e.NewData
}
