package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// RegisterSearchTools registers the hybrid_search tool.
func RegisterSearchTools(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"hybrid_search",
		mcp.WithDescription(
			"Semantic search over the rows of a managed schema. "+
				"Returns the most similar rows with a similarity score in [0, 1], most similar first. "+
				"Use metadata_filter to require exact column values (e.g. {\"category\": \"electronics\"}). "+
				"Searches of schemas that are not registered or not active return no hits. "+
				"Every call is recorded in the search log.",
		),
		mcp.WithString(
			"query",
			mcp.Description("Natural language search text. Required unless embedding is given"),
		),
		mcp.WithArray(
			"embedding",
			mcp.Description("Optional - precomputed query embedding; when given it is used instead of embedding the query text"),
			mcp.Items(map[string]any{"type": "number"}),
		),
		mcp.WithString(
			"schema",
			mcp.Required(),
			mcp.Description("Managed schema to search"),
		),
		mcp.WithString(
			"table",
			mcp.Description("Optional - restrict results to one table"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Optional - maximum hits to return. Defaults to the server's default limit; values above the maximum are capped"),
		),
		mcp.WithObject(
			"metadata_filter",
			mcp.Description("Optional - column values every hit must contain"),
		),
		mcp.WithString(
			"session_id",
			mcp.Description("Optional - groups searches of one conversation in the search log"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		vec, err := getOptionalFloat32Array(req, "embedding")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		query := getOptionalString(req, "query")
		if query == "" && len(vec) == 0 {
			return NewErrorResult("invalid_parameters", "parameter 'query' cannot be empty unless 'embedding' is given"), nil
		}
		schema, err := req.RequireString("schema")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		limit, hasLimit, err := getOptionalInt(req, "limit")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if hasLimit && limit < 0 {
			return NewErrorResultWithDetails("invalid_parameters", "limit must not be negative",
				map[string]any{"parameter": "limit", "actual": limit}), nil
		}
		if !hasLimit {
			limit = deps.Search.Limits().Default
		}

		filter, err := getOptionalObject(req, "metadata_filter")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		searchReq := &models.SearchRequest{
			SearchQuery: models.SearchQuery{
				Text:           query,
				Embedding:      vec,
				Schema:         trimString(schema),
				Table:          getOptionalString(req, "table"),
				MetadataFilter: filter,
				Limit:          limit,
			},
			SessionID: getOptionalString(req, "session_id"),
		}
		resp, err := deps.Search.Search(ctx, searchReq)
		if err != nil {
			return HandleServiceError(err)
		}
		if resp.Hits == nil {
			resp.Hits = []models.SearchHit{}
		}
		return jsonResult(resp)
	})
}
