package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain object", `{"name": "test", "value": 123}`, `{"name": "test", "value": 123}`},
		{"plain array", `[{"name": "a"}, {"name": "b"}]`, `[{"name": "a"}, {"name": "b"}]`},
		{"nested", `{"items": [{"nested": {"array": [1, 2, 3]}}]}`, `{"items": [{"nested": {"array": [1, 2, 3]}}]}`},
		{"think block", "<think>\nreasoning {not json}\n</think>\n{\"a\": 1}", `{"a": 1}`},
		{"markdown fence", "Here you go:\n```json\n{\"a\": [1]}\n```\nDone.", `{"a": [1]}`},
		{"braces in strings", `{"sql": "SELECT '{' FROM t", "b": "\"}"}`, `{"sql": "SELECT '{' FROM t", "b": "\"}"}`},
		{"prose before object", `The answer is {"ok": true} as requested.`, `{"ok": true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	_, err := ExtractJSON("I could not find any suggestions.")
	require.Error(t, err)

	_, err = ExtractJSON(`{"unterminated": [1, 2`)
	require.Error(t, err)
}

func TestParseJSONResponse(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	got, err := ParseJSONResponse[payload]("```json\n{\"name\": \"orders\", \"count\": 3}\n```")
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "orders", Count: 3}, got)

	_, err = ParseJSONResponse[payload](`{"name": 5}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal JSON")
}
