package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

type healthResult struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Embeddings *models.EmbeddingStats `json:"embeddings,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and embedding statistics.
func RegisterHealthTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and embedding statistics"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: deps.Version}
		if deps.Stats != nil {
			stats, err := deps.Stats.Stats(ctx)
			if err != nil {
				deps.Logger.Warn("Failed to read embedding statistics", zap.Error(err))
				result.Status = "degraded"
			} else {
				result.Embeddings = stats
			}
		}
		return jsonResult(result)
	})
}
