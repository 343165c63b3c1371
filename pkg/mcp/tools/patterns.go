package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

const defaultConfidenceDelta = 0.1

// RegisterPatternTools registers get_top_patterns and record_pattern.
func RegisterPatternTools(s *server.MCPServer, deps *ToolDeps) {
	registerGetTopPatternsTool(s, deps)
	registerRecordPatternTool(s, deps)
}

type patternsResponse struct {
	PatternType string                   `json:"pattern_type"`
	Patterns    []*models.LearnedPattern `json:"patterns"`
}

func registerGetTopPatternsTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"get_top_patterns",
		mcp.WithDescription(
			"List the most confident learned patterns of a type. "+
				"Types include 'entity' (table classifications), 'relationship' (foreign key links), "+
				"'query_intent' (keywords that classify search text) and 'terminology'. "+
				"With a schema, patterns scoped to that schema are returned together with global ones.",
		),
		mcp.WithString(
			"pattern_type",
			mcp.Required(),
			mcp.Description("Pattern type, e.g. 'entity' or 'query_intent'"),
		),
		mcp.WithString(
			"schema",
			mcp.Description("Optional - schema scope"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Optional - maximum patterns to return (default 10, max 100)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		patternType, err := req.RequireString("pattern_type")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if patternType = trimString(patternType); patternType == "" {
			return NewErrorResult("invalid_parameters", "parameter 'pattern_type' cannot be empty"), nil
		}
		limit, _, err := getOptionalInt(req, "limit")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		patterns, err := deps.Patterns.TopPatterns(ctx, patternType, getOptionalString(req, "schema"), limit)
		if err != nil {
			return HandleServiceError(err)
		}
		if patterns == nil {
			patterns = []*models.LearnedPattern{}
		}
		return jsonResult(patternsResponse{PatternType: patternType, Patterns: patterns})
	})
}

func registerRecordPatternTool(s *server.MCPServer, deps *ToolDeps) {
	tool := mcp.NewTool(
		"record_pattern",
		mcp.WithDescription(
			"Record an observation of a pattern. Observing the same pattern type, scope and payload again "+
				"raises its confidence by confidence_delta (clamped to [0, 1]) and increments its usage count. "+
				"For query intents use pattern_type='query_intent' and payload "+
				"{\"intent\": \"product_lookup\", \"keywords\": [\"price\", \"sku\"]}; new intents take effect for search classification within a minute.",
		),
		mcp.WithString(
			"pattern_type",
			mcp.Required(),
			mcp.Description("Pattern type"),
		),
		mcp.WithObject(
			"payload",
			mcp.Required(),
			mcp.Description("Pattern content. Identical payloads are merged"),
		),
		mcp.WithString(
			"schema",
			mcp.Description("Optional - schema scope; omit for a global pattern"),
		),
		mcp.WithString(
			"table",
			mcp.Description("Optional - table scope"),
		),
		mcp.WithNumber(
			"confidence_delta",
			mcp.Description("Optional - confidence adjustment between -1 and 1 (default 0.1). Negative values weaken the pattern"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		patternType, err := req.RequireString("pattern_type")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if patternType = trimString(patternType); patternType == "" {
			return NewErrorResult("invalid_parameters", "parameter 'pattern_type' cannot be empty"), nil
		}

		payload, err := getOptionalObject(req, "payload")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if len(payload) == 0 {
			return NewErrorResult("invalid_parameters", "parameter 'payload' must be a non-empty object"), nil
		}

		delta := defaultConfidenceDelta
		if d, ok := getOptionalFloat(req, "confidence_delta"); ok {
			if d < -1 || d > 1 {
				return NewErrorResultWithDetails("invalid_parameters", "confidence_delta must be between -1 and 1",
					map[string]any{"parameter": "confidence_delta", "actual": d}), nil
			}
			delta = d
		}

		pattern, err := deps.Patterns.RecordObservation(ctx, &models.PatternObservation{
			PatternType:     patternType,
			SchemaScope:     getOptionalString(req, "schema"),
			TableScope:      getOptionalString(req, "table"),
			Payload:         payload,
			ConfidenceDelta: delta,
		})
		if err != nil {
			return HandleServiceError(err)
		}
		return jsonResult(pattern)
	})
}
