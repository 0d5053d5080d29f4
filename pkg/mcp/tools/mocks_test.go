package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/services"
)

// mockPipeline is a func-field Pipeline that records the requests it receives.
type mockPipeline struct {
	runFunc  func(ctx context.Context, req *services.RunRequest) (*services.RunResult, error)
	cache    *cache.Cache
	requests []*services.RunRequest
}

func (m *mockPipeline) Run(ctx context.Context, req *services.RunRequest) (*services.RunResult, error) {
	m.requests = append(m.requests, req)
	return m.runFunc(ctx, req)
}

func (m *mockPipeline) Cache() *cache.Cache {
	return m.cache
}

func (m *mockPipeline) lastRequest(t *testing.T) *services.RunRequest {
	t.Helper()
	require.NotEmpty(t, m.requests, "pipeline was not run")
	return m.requests[len(m.requests)-1]
}

// toolResponse is the decoded result of a tools/call message.
type toolResponse struct {
	Text    string
	IsError bool
	RPCErr  string
}

// callTool sends a tools/call message through the server and decodes the reply.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) toolResponse {
	t.Helper()

	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  params,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), msg))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	out := toolResponse{IsError: response.Result.IsError}
	if response.Error != nil {
		out.RPCErr = response.Error.Message
		return out
	}
	require.NotEmpty(t, response.Result.Content, "expected content in response")
	out.Text = response.Result.Content[0].Text
	return out
}

// decode unmarshals a tool response body into v.
func decode[T any](t *testing.T, resp toolResponse) T {
	t.Helper()
	require.Empty(t, resp.RPCErr)
	var v T
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &v), fmt.Sprintf("body: %s", resp.Text))
	return v
}

// listTools returns the names of the registered tools.
func listTools(t *testing.T, s *server.MCPServer) []string {
	t.Helper()
	raw, err := json.Marshal(s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	names := make([]string, 0, len(response.Result.Tools))
	for _, tool := range response.Result.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func newTestServer() *server.MCPServer {
	return server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
}
