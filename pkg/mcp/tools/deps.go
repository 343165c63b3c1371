// Package tools provides the MCP tools of ekaya-sync: hybrid search, schema
// and sync status inspection, and learned pattern access.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/services"
)

// EmbeddingStatsReader reports vector store statistics.
type EmbeddingStatsReader interface {
	Stats(ctx context.Context) (*models.EmbeddingStats, error)
}

// ToolDeps contains the services MCP tools call.
type ToolDeps struct {
	Registry services.SchemaRegistryService
	Tracker  services.SyncTrackerService
	Search   services.SearchService
	Patterns services.PatternService
	// Stats is optional; the health tool omits statistics without it.
	Stats   EmbeddingStatsReader
	Version string
	Logger  *zap.Logger
}

// RegisterTools registers every ekaya-sync tool on s.
func RegisterTools(s *server.MCPServer, deps *ToolDeps) {
	RegisterHealthTool(s, deps)
	RegisterSearchTools(s, deps)
	RegisterSchemaTools(s, deps)
	RegisterPatternTools(s, deps)
}
