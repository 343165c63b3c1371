package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	val, _ := arguments(req)[key].(string)
	return trimString(val)
}

// getOptionalBool extracts an optional boolean argument from the request.
func getOptionalBool(req mcp.CallToolRequest, key string) (bool, bool) {
	val, ok := arguments(req)[key].(bool)
	return val, ok
}

// getOptionalFloat extracts an optional number argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	val, ok := arguments(req)[key].(float64)
	return val, ok
}

// getOptionalInt extracts an optional whole-number argument. JSON numbers
// arrive as float64; fractional values are rejected.
func getOptionalInt(req mcp.CallToolRequest, key string) (int, bool, error) {
	raw, present := arguments(req)[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false, fmt.Errorf("parameter '%s' must be a whole number", key)
	}
	return int(f), true, nil
}

// getOptionalObject extracts an optional JSON object argument. Objects sent
// as a JSON string are decoded too, since some clients stringify them.
func getOptionalObject(req mcp.CallToolRequest, key string) (map[string]any, error) {
	switch v := arguments(req)[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if trimString(v) == "" {
			return nil, nil
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(v), &obj); err != nil {
			return nil, fmt.Errorf("parameter '%s' must be a JSON object: %w", key, err)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("parameter '%s' must be an object", key)
	}
}

// getOptionalFloat32Array extracts an optional array of numbers, such as a
// query embedding.
func getOptionalFloat32Array(req mcp.CallToolRequest, key string) ([]float32, error) {
	raw, present := arguments(req)[key]
	if !present || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter '%s' must be an array of numbers", key)
	}
	out := make([]float32, len(items))
	for i, item := range items {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("parameter '%s' element %d must be a number", key, i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
