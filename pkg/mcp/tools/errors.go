package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/logging"
)

// ErrorResponse represents a structured error in tool results.
// Errors the caller can act on are returned as a successful tool result carrying
// this body, so the details reach the model instead of being swallowed by the
// MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors (invalid parameters, unreachable
// log source, unknown model). Internal failures still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// Error codes returned to MCP clients.
const (
	CodeInvalidArgument   = "invalid_argument"
	CodeNotFound          = "not_found"
	CodeSourceUnavailable = "source_unavailable"
	CodeMetadataLoad      = "metadata_load_failed"
	CodeStageTimeout      = "stage_timeout"
	CodeCacheDisabled     = "cache_disabled"
)

// ErrorCode maps an actionable error to its tool error code. It returns "" for
// errors that are not actionable by the caller.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, apperrors.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, apperrors.ErrSourceUnavailable):
		return CodeSourceUnavailable
	case errors.Is(err, apperrors.ErrMetadataLoad):
		return CodeMetadataLoad
	case errors.Is(err, apperrors.ErrStageTimeout):
		return CodeStageTimeout
	}
	return ""
}

// NewResultForError converts an actionable error into an error result. It
// returns nil when the error should be returned to the MCP runtime instead.
func NewResultForError(err error) *mcp.CallToolResult {
	code := ErrorCode(err)
	if code == "" {
		return nil
	}
	return NewErrorResult(code, logging.SanitizeError(err))
}
