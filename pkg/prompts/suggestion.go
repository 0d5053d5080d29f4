// Package prompts renders the text sent to suggestion providers.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/querysight/pkg/models"
)

// SuggestionSystem is the system message for every suggestion request.
const SuggestionSystem = `You are a database performance engineer reviewing query patterns observed
against a dbt project's warehouse. Each pattern is a normalized SQL skeleton with
literals replaced by ?. Propose concrete optimizations: indexes, materialization
changes, incremental models, pre-aggregations or query rewrites. Only reference
pattern ids and models you were given. Respond with JSON only.`

// BuildSuggestionPrompt lists the candidates, most complex first, with their
// metrics and model mapping, followed by the expected JSON response shape.
// Coverage is optional.
func BuildSuggestionPrompt(candidates []models.PatternRow, coverage *models.CoverageSummary) string {
	var b strings.Builder
	if coverage != nil {
		fmt.Fprintf(&b, "Model coverage: %d of %d patterns mapped (%.0f%%).\n",
			coverage.MappedPatterns, coverage.TotalPatterns, coverage.Coverage*100)
		if len(coverage.Dependency.CriticalModels) > 0 {
			b.WriteString("Critical models:")
			for _, m := range coverage.Dependency.CriticalModels {
				fmt.Fprintf(&b, " %s(impact %d)", m.Model, m.ImpactScore)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Query patterns, most complex first:\n\n")
	for i, row := range candidates {
		p := row.Pattern
		fmt.Fprintf(&b, "%d. pattern_id: %s\n", i+1, p.PatternID)
		fmt.Fprintf(&b, "   sql: %s\n", p.NormalizedSQL)
		fmt.Fprintf(&b, "   executions: %d, avg_duration_ms: %.1f, avg_memory_bytes: %.0f, complexity: %.2f\n",
			p.Count, p.AvgDurationMs, p.AvgMemoryBytes, row.ComplexityScore)
		if len(p.Tables) > 0 {
			fmt.Fprintf(&b, "   tables: %s\n", strings.Join(p.Tables, ", "))
		}
		if row.Mapping != nil && row.Mapping.IsMapped() {
			fmt.Fprintf(&b, "   models: %s (%s match)\n", strings.Join(row.Mapping.Models, ", "), row.Mapping.Basis)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Return an object of the form:
{"suggestions": [{"type": "index|materialization|incremental|aggregation|rewrite",
  "title": "...", "description": "...", "impact": "high|medium|low",
  "suggested_sql": "...", "pattern_ids": ["..."], "models": ["..."]}]}`)
	return b.String()
}
