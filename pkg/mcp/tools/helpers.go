package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
)

// trimString removes leading and trailing whitespace from a string.
// This is a common helper used across MCP tool parameter validation.
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

// getOptionalInt extracts an optional integer argument. JSON numbers arrive as
// float64; fractional values are rejected.
func getOptionalInt(req mcp.CallToolRequest, key string) (int64, bool, error) {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	f, ok := raw.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, false, fmt.Errorf("%s must be an integer: %w", key, apperrors.ErrInvalidArgument)
	}
	return int64(f), true, nil
}

// getOptionalFloat extracts an optional float argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	val, ok := arguments(req)[key].(float64)
	return val, ok
}

// getOptionalBool extracts an optional boolean argument with a default value.
func getOptionalBool(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	if val, ok := arguments(req)[key].(bool); ok {
		return val
	}
	return defaultVal
}

// getStringSlice extracts an optional array of strings. Some clients send arrays
// as a JSON-encoded string, so that form is accepted too.
func getStringSlice(req mcp.CallToolRequest, key string) ([]string, error) {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case string:
		s := trimString(v)
		if s == "" {
			return nil, nil
		}
		if !strings.HasPrefix(s, "[") {
			return splitList(s), nil
		}
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return nil, fmt.Errorf("%s must be an array of strings: %w", key, apperrors.ErrInvalidArgument)
		}
	default:
		return nil, fmt.Errorf("%s must be an array of strings: %w", key, apperrors.ErrInvalidArgument)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be an array of strings: %w", key, apperrors.ErrInvalidArgument)
		}
		if s = trimString(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = trimString(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// jsonResult marshals v as the text content of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
