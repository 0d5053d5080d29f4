package models

// SuggestionImpact is the expected benefit of applying a suggestion.
type SuggestionImpact string

const (
	SuggestionImpactHigh   SuggestionImpact = "high"
	SuggestionImpactMedium SuggestionImpact = "medium"
	SuggestionImpactLow    SuggestionImpact = "low"
)

// Suggestion is an optimization recommendation returned by the suggestion generator.
type Suggestion struct {
	Type         string           `json:"type"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Impact       SuggestionImpact `json:"impact"`
	SuggestedSQL string           `json:"suggested_sql,omitempty"`
	PatternIDs   []string         `json:"pattern_ids,omitempty"`
	Models       []string         `json:"models,omitempty"`
}

// PatternRow is a pattern joined with its mapping, as exposed to consumers.
type PatternRow struct {
	Pattern         QueryPattern         `json:"pattern"`
	Mapping         *PatternModelMapping `json:"mapping,omitempty"`
	ComplexityScore float64              `json:"complexity_score"`
}

// OptimizationReady is the output of the final stage.
type OptimizationReady struct {
	Candidates         []PatternRow `json:"candidates"`
	Suggestions        []Suggestion `json:"suggestions,omitempty"`
	SuggestionsSkipped string       `json:"suggestions_skipped,omitempty"`
}
