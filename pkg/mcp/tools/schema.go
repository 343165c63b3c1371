package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// RegisterSchemaTools registers list_schemas and get_sync_status.
func RegisterSchemaTools(s *server.MCPServer, deps *ToolDeps) {
	registerListSchemasTool(s, deps)
	registerGetSyncStatusTool(s, deps)
}

type schemaSummary struct {
	SchemaName     string     `json:"schema_name"`
	DisplayName    string     `json:"display_name,omitempty"`
	Description    string     `json:"description,omitempty"`
	BusinessDomain string     `json:"business_domain,omitempty"`
	IsActive       bool       `json:"is_active"`
	TotalTables    int        `json:"total_tables"`
	TotalRows      int64      `json:"total_rows"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

type listSchemasResponse struct {
	Schemas []schemaSummary `json:"schemas"`
	Count   int             `json:"count"`
}

func registerListSchemasTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"list_schemas",
		mcp.WithDescription(
			"List the schemas registered for semantic search, with their business domain and sync summary. "+
				"Only active schemas can be searched with hybrid_search.",
		),
		mcp.WithBoolean(
			"active_only",
			mcp.Description("Optional - only list active schemas (default false)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		activeOnly, _ := getOptionalBool(req, "active_only")

		schemas, err := deps.Registry.List(ctx, activeOnly)
		if err != nil {
			return HandleServiceError(err)
		}

		resp := listSchemasResponse{Schemas: make([]schemaSummary, 0, len(schemas))}
		for _, m := range schemas {
			resp.Schemas = append(resp.Schemas, schemaSummary{
				SchemaName:     m.SchemaName,
				DisplayName:    m.DisplayName,
				Description:    m.Description,
				BusinessDomain: m.BusinessDomain,
				IsActive:       m.IsActive,
				TotalTables:    m.TotalTables,
				TotalRows:      m.TotalRows,
				LastSyncedAt:   m.LastSyncedAt,
			})
		}
		resp.Count = len(resp.Schemas)
		return jsonResult(resp)
	})
}

type syncStatusResponse struct {
	SchemaName string               `json:"schema_name"`
	Tables     []*models.SyncStatus `json:"tables"`
	Summary    map[string]int       `json:"summary"`
}

func registerGetSyncStatusTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"get_sync_status",
		mcp.WithDescription(
			"Show the sync state of the tables of a managed schema: status (pending, running, completed, failed), "+
				"rows synced, last error and whether realtime change capture is enabled. "+
				"Search results only cover tables whose sync completed.",
		),
		mcp.WithString(
			"schema",
			mcp.Required(),
			mcp.Description("Managed schema name"),
		),
		mcp.WithString(
			"table",
			mcp.Description("Optional - a single table"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		schema, err := req.RequireString("schema")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		schema = trimString(schema)

		if _, err := deps.Registry.Get(ctx, schema); err != nil {
			return HandleServiceError(err)
		}

		var statuses []*models.SyncStatus
		if table := getOptionalString(req, "table"); table != "" {
			st, err := deps.Tracker.Get(ctx, schema, table)
			if err != nil {
				return HandleServiceError(err)
			}
			statuses = []*models.SyncStatus{st}
		} else {
			statuses, err = deps.Tracker.ListBySchema(ctx, schema)
			if err != nil {
				return HandleServiceError(err)
			}
		}
		if statuses == nil {
			statuses = []*models.SyncStatus{}
		}

		summary := map[string]int{}
		for _, st := range statuses {
			summary[st.Status]++
		}
		return jsonResult(syncStatusResponse{SchemaName: schema, Tables: statuses, Summary: summary})
	})
}
