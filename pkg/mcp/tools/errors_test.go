package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	// The Content slice contains mcp.Content interface types
	// We need to marshal and unmarshal to extract the text
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	_ = json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResult("test_error", "this is a test error")

	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	assert.True(t, result.IsError)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "test_error", errResp.Code)
	assert.Equal(t, "this is a test error", errResp.Message)
	assert.Nil(t, errResp.Details, "details should be nil when not provided")
}

func TestNewErrorResultWithDetails(t *testing.T) {
	details := map[string]any{
		"valid_categories": []string{"collection", "patterns"},
		"count":            2,
	}

	result := NewErrorResultWithDetails(CodeInvalidArgument, "unknown category", details)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
	assert.Equal(t, CodeInvalidArgument, errResp.Code)

	detailsMap, ok := errResp.Details.(map[string]any)
	require.True(t, ok, "details should be a map")
	assert.Contains(t, detailsMap, "valid_categories")
	assert.Equal(t, float64(2), detailsMap["count"]) // JSON numbers are float64
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid argument", fmt.Errorf("bad level: %w", apperrors.ErrInvalidArgument), CodeInvalidArgument},
		{"not found", fmt.Errorf("model x: %w", apperrors.ErrNotFound), CodeNotFound},
		{"source", fmt.Errorf("collection stage: %w", apperrors.ErrSourceUnavailable), CodeSourceUnavailable},
		{"metadata", fmt.Errorf("model_integration stage: %w", apperrors.ErrMetadataLoad), CodeMetadataLoad},
		{"timeout", fmt.Errorf("optimization_ready stage: %w", apperrors.ErrStageTimeout), CodeStageTimeout},
		{"internal", errors.New("disk full"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestNewResultForError(t *testing.T) {
	assert.Nil(t, NewResultForError(errors.New("internal")))

	err := fmt.Errorf("open postgres log source: password=hunter2 refused: %w", apperrors.ErrSourceUnavailable)
	result := NewResultForError(err)
	require.NotNil(t, result)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
	assert.Equal(t, CodeSourceUnavailable, errResp.Code)
	assert.NotContains(t, errResp.Message, "hunter2")
}
