package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/querysight/pkg/models"
)

func candidates() []models.PatternRow {
	return []models.PatternRow{{
		Pattern: models.QueryPattern{
			PatternID:     "p1",
			NormalizedSQL: "SELECT * FROM orders WHERE customer_id = ?",
			Count:         40,
			AvgDurationMs: 1200,
			Tables:        []string{"orders"},
		},
		Mapping: &models.PatternModelMapping{
			PatternID: "p1",
			Models:    []string{"orders"},
			Basis:     models.MappingBasisExact,
		},
		ComplexityScore: 3.5,
	}}
}

func TestBuildSuggestionPrompt(t *testing.T) {
	prompt := BuildSuggestionPrompt(candidates(), &models.CoverageSummary{
		TotalPatterns:  2,
		MappedPatterns: 1,
		Coverage:       0.5,
	})

	assert.Contains(t, prompt, "1 of 2 patterns mapped (50%)")
	assert.Contains(t, prompt, "1. pattern_id: p1")
	assert.Contains(t, prompt, "executions: 40, avg_duration_ms: 1200.0")
	assert.Contains(t, prompt, "models: orders (exact match)")
	assert.Contains(t, prompt, "tables: orders")
	assert.Contains(t, prompt, `"suggestions"`)
}

func TestBuildSuggestionPrompt_NoCoverage(t *testing.T) {
	prompt := BuildSuggestionPrompt(candidates(), nil)

	assert.NotContains(t, prompt, "Model coverage")
	assert.Contains(t, prompt, "pattern_id: p1")
}

func TestBuildSuggestionPrompt_UnmappedPatternHasNoModelsLine(t *testing.T) {
	rows := candidates()
	rows[0].Mapping = nil

	prompt := BuildSuggestionPrompt(rows, nil)

	assert.NotContains(t, prompt, "models:")
}
