package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/mcp"
)

// MCPHandler exposes the analysis and cache tools over streamable HTTP.
type MCPHandler struct {
	transport *server.StreamableHTTPServer
	logger    *zap.Logger
}

func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		transport: mcpServer.NewStreamableHTTPServer(),
		logger:    logger.Named("mcp-http"),
	}
}

// RegisterRoutes mounts the tool endpoint at /mcp.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", h.serveTools)
}

// serveTools accepts POST only. The transport is stateless, so there is no
// SSE stream to GET and no session to DELETE.
func (h *MCPHandler) serveTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Debug("Rejected MCP request", zap.String("method", r.Method))
		w.Header().Set("Allow", http.MethodPost)
		if err := ErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed",
			"the MCP endpoint accepts POST only"); err != nil {
			h.logger.Error("Failed to write MCP error response", zap.Error(err))
		}
		return
	}
	h.transport.ServeHTTP(w, r)
}
