package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-sync/pkg/logging"
	"github.com/ekaya-inc/ekaya-sync/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-sync/pkg/sql"
)

// maxParamSize is the maximum size of a string parameter in an audit entry.
const maxParamSize = 1024

// sensitiveParamKeys are substrings of parameter names whose values are
// hashed rather than logged.
var sensitiveParamKeys = []string{"password", "secret", "token", "credential", "api_key", "apikey"}

// ToolAuditor writes one structured log entry per MCP tool call.
type ToolAuditor struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolAuditor creates a ToolAuditor.
func NewToolAuditor(logger *zap.Logger) *ToolAuditor {
	return &ToolAuditor{
		logger: logger.Named("mcp-audit"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolAuditor) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolAuditor) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolAuditor) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	fields := a.baseFields(id, req)

	level := zapcore.InfoLevel
	msg := "MCP tool call"
	if result != nil && result.IsError {
		level = zapcore.WarnLevel
		msg = "MCP tool call returned error result"
		fields = append(fields, zap.String("error_preview", resultPreview(result)))
	}
	if ce := a.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (a *ToolAuditor) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	fields := a.baseFields(id, req)
	fields = append(fields, zap.String("error", logging.SanitizeError(err)))

	level := zapcore.ErrorLevel
	if tools.IsInputError(err) {
		level = zapcore.WarnLevel
	}
	if ce := a.logger.Check(level, "MCP tool call failed"); ce != nil {
		ce.Write(fields...)
	}
}

func (a *ToolAuditor) baseFields(id any, req *mcplib.CallToolRequest) []zap.Field {
	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.Int64("duration_ms", time.Since(a.loadAndDeleteStart(id)).Milliseconds()),
	}
	if params := sanitizeParams(req.Params.Arguments); len(params) > 0 {
		fields = append(fields, zap.Any("params", params))
	}
	if flags := securityFlags(req.Params.Arguments); len(flags) > 0 {
		fields = append(fields, zap.Strings("security_flags", flags))
	}
	return fields
}

func (a *ToolAuditor) loadAndDeleteStart(id any) time.Time {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time)
	}
	return time.Now()
}

// sanitizeParams prepares request parameters for the audit log: sensitive
// values are hashed, search text is redacted and long strings are truncated.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if isSensitiveParam(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		if key == "query" || key == "text" {
			return logging.SanitizeSearchText(val)
		}
		if len(val) > maxParamSize {
			return val[:maxParamSize] + "...[truncated]"
		}
		return val
	case map[string]any:
		nested := make(map[string]any, len(val))
		for k, v := range val {
			nested[k] = sanitizeValue(k, v)
		}
		return nested
	default:
		return value
	}
}

func isSensitiveParam(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveParamKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// hashSensitiveValue returns a SHA-256 hash prefix for sensitive values,
// allowing correlation across audit entries without storing the actual value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// securityFlags screens string arguments, including one level of nested
// objects, for injection payloads. Flags are sorted.
func securityFlags(args any) []string {
	params, ok := args.(map[string]any)
	if !ok {
		return nil
	}

	var flags []string
	for k, v := range params {
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range nested {
				if f := sql.CheckValue(k+"."+nk, nv); f != nil {
					flags = append(flags, f.Kind+":"+f.Field)
				}
			}
			continue
		}
		if f := sql.CheckValue(k, v); f != nil {
			flags = append(flags, f.Kind+":"+f.Field)
		}
	}
	sort.Strings(flags)
	return flags
}

// resultPreview returns the truncated text of the first text content.
func resultPreview(result *mcplib.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return logging.TruncateString(tc.Text, 200)
		}
	}
	return ""
}
