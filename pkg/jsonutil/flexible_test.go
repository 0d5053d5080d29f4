package jsonutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{name: "string", input: json.RawMessage(`"p-123"`), want: "p-123"},
		{name: "integer", input: json.RawMessage(`42`), want: "42"},
		{name: "negative integer", input: json.RawMessage(`-7`), want: "-7"},
		{name: "large integer keeps precision", input: json.RawMessage(`9007199254740993`), want: "9007199254740993"},
		{name: "float", input: json.RawMessage(`3.14`), want: "3.14"},
		{name: "boolean", input: json.RawMessage(`true`), want: "true"},
		{name: "null", input: json.RawMessage(`null`), want: ""},
		{name: "nil", input: nil, want: ""},
		{name: "empty string", input: json.RawMessage(`""`), want: ""},
		{name: "object falls back to raw text", input: json.RawMessage(`{"impact":"high"}`), want: `{"impact":"high"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlexibleStringValue(tt.input))
		})
	}
}

func TestFlexibleStrings(t *testing.T) {
	got := FlexibleStrings([]json.RawMessage{
		json.RawMessage(`"orders"`),
		json.RawMessage(`17`),
		json.RawMessage(`null`),
		json.RawMessage(`""`),
	})
	assert.Equal(t, []string{"orders", "17"}, got)
}
