package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/mcp"
	"github.com/ekaya-inc/querysight/pkg/mcp/tools"
	"github.com/ekaya-inc/querysight/pkg/metrics"
)

func newTestMCPHandler(t *testing.T) *MCPHandler {
	t.Helper()
	logger := zap.NewNop()
	mcpServer := mcp.NewServer("test", "1.0.0", nil, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), "1.0.0", cache.NewMemory(logger))
	return NewMCPHandler(mcpServer, logger)
}

func TestNewMCPHandler(t *testing.T) {
	handler := newTestMCPHandler(t)
	require.NotNil(t, handler)
	assert.NotNil(t, handler.transport)
}

func TestMCPHandler_ToolsList(t *testing.T) {
	mux := http.NewServeMux()
	newTestMCPHandler(t).RegisterRoutes(mux)

	body := `{"jsonrpc":"2.0","method":"tools/list","id":1}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"health"`)
}

func TestMCPHandler_RejectsNonPOST(t *testing.T) {
	mux := http.NewServeMux()
	newTestMCPHandler(t).RegisterRoutes(mux)

	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPut} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "POST", rec.Header().Get("Allow"), method)
		assert.Contains(t, rec.Body.String(), `"error":"method_not_allowed"`, method)
	}
}

func TestRegisterMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.CacheRequest("collection", "hit")

	mux := http.NewServeMux()
	RegisterMetricsRoute(mux, m)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `querysight_cache_requests_total{category="collection",result="hit"} 1`)
}
