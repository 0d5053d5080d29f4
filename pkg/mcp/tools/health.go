package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/querysight/pkg/cache"
)

type healthResult struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	CacheEnabled bool   `json:"cache_enabled"`
	CacheBackend string `json:"cache_backend"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, version and cache mode.
func RegisterHealthTool(s *server.MCPServer, version string, c *cache.Cache) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(healthResult{
			Status:       "ok",
			Version:      version,
			CacheEnabled: c.Enabled(),
			CacheBackend: c.Backend(),
		})
	})
}
