package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/logging"
	"github.com/ekaya-inc/querysight/pkg/metrics"
)

// Tool call outcomes recorded in metrics.
const (
	outcomeOK        = "ok"
	outcomeToolError = "tool_error"
	outcomeError     = "error"
)

// AuditLogger logs every MCP tool call with its sanitized arguments and duration,
// and counts calls by outcome.
type AuditLogger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger. m may be nil.
func NewAuditLogger(m *metrics.Metrics, logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logger:  logger.Named("mcp-audit"),
		metrics: m,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	duration := a.elapsed(id)
	outcome := outcomeOK
	if result != nil && result.IsError {
		outcome = outcomeToolError
	}
	a.metrics.ToolCall(req.Params.Name, outcome)
	a.logger.Info("MCP tool call",
		zap.String("tool", req.Params.Name),
		zap.String("outcome", outcome),
		zap.Any("params", sanitizeParams(req.Params.Arguments)),
		zap.Duration("duration", duration))
}

func (a *AuditLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	duration := a.elapsed(id)
	a.metrics.ToolCall(req.Params.Name, outcomeError)
	a.logger.Error("MCP tool call failed",
		zap.String("tool", req.Params.Name),
		zap.Any("params", sanitizeParams(req.Params.Arguments)),
		zap.Duration("duration", duration),
		zap.Error(err))
}

func (a *AuditLogger) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

// maxParamSize is the maximum size of a string argument written to the log.
const maxParamSize = 1024

// sanitizeParams truncates long strings and masks string literals in SQL-like
// arguments before they are logged.
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
	switch val := value.(type) {
	case string:
		if isSQLParam(key) {
			return logging.SanitizeQuery(val)
		}
		return logging.TruncateString(val, maxParamSize)
	case map[string]any:
		return sanitizeParams(val)
	case []any:
		if len(val) > 50 {
			return fmt.Sprintf("[%d items]", len(val))
		}
		return val
	default:
		return value
	}
}

// isSQLParam returns true if a parameter key likely contains SQL.
func isSQLParam(key string) bool {
	lower := strings.ToLower(key)
	return lower == "sql" || lower == "query" || strings.HasSuffix(lower, "_sql") || strings.HasSuffix(lower, "_query")
}
