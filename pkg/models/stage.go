package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Analysis Stages
// ============================================================================

// Stage is one level of the analysis pipeline.
type Stage string

const (
	StageCollection        Stage = "collection"
	StagePatternAnalysis   Stage = "pattern_analysis"
	StageModelIntegration  Stage = "model_integration"
	StageOptimizationReady Stage = "optimization_ready"
)

// StageOrder defines the execution order (and level number) of each stage.
var StageOrder = map[Stage]int{
	StageCollection:        1,
	StagePatternAnalysis:   2,
	StageModelIntegration:  3,
	StageOptimizationReady: 4,
}

// AllStages returns all stages in execution order.
func AllStages() []Stage {
	return []Stage{
		StageCollection,
		StagePatternAnalysis,
		StageModelIntegration,
		StageOptimizationReady,
	}
}

// Level returns the 1-based level of the stage, or 0 if unknown.
func (s Stage) Level() int {
	return StageOrder[s]
}

// Category returns the cache category that stores the stage's output.
func (s Stage) Category() CacheCategory {
	switch s {
	case StageCollection:
		return CacheCategoryCollection
	case StagePatternAnalysis:
		return CacheCategoryPatterns
	case StageModelIntegration:
		return CacheCategoryMappings
	default:
		return CacheCategorySuggestions
	}
}

// StagesUpTo returns the stages that must run to reach target, in order.
func StagesUpTo(target Stage) []Stage {
	var out []Stage
	for _, s := range AllStages() {
		if s.Level() <= target.Level() {
			out = append(out, s)
		}
	}
	return out
}

// ParseStage accepts a level number ("1".."4") or a stage name.
func ParseStage(s string) (Stage, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		for stage, level := range StageOrder {
			if level == n {
				return stage, nil
			}
		}
		return "", fmt.Errorf("unknown analysis level %d (expected 1-4)", n)
	}
	// Accept the short CLI spellings as well.
	switch s {
	case "collection", "level1":
		return StageCollection, nil
	case "pattern_analysis", "patterns", "level2":
		return StagePatternAnalysis, nil
	case "model_integration", "models", "level3":
		return StageModelIntegration, nil
	case "optimization_ready", "optimization", "level4":
		return StageOptimizationReady, nil
	}
	return "", fmt.Errorf("unknown analysis level %q", s)
}

// ============================================================================
// Run Report
// ============================================================================

// StageOutcome records whether a stage was served from cache or recomputed.
type StageOutcome string

const (
	StageOutcomeCached   StageOutcome = "cached"
	StageOutcomeComputed StageOutcome = "computed"
	StageOutcomeFailed   StageOutcome = "failed"
)

// StageReport describes one stage execution in a run.
type StageReport struct {
	Stage    Stage         `json:"stage"`
	Outcome  StageOutcome  `json:"outcome"`
	CacheKey string        `json:"cache_key,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunReport is the user-visible account of a pipeline run.
type RunReport struct {
	RunID            uuid.UUID        `json:"run_id"`
	Level            Stage            `json:"level"`
	Stages           []StageReport    `json:"stages"`
	RecordsProcessed int64            `json:"records_processed"`
	RecordsSkipped   int64            `json:"records_skipped"`
	SkipReasons      map[string]int64 `json:"skip_reasons,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}

// AddSkipped records n skipped records under the given reason.
func (r *RunReport) AddSkipped(reason string, n int64) {
	if n <= 0 {
		return
	}
	if r.SkipReasons == nil {
		r.SkipReasons = make(map[string]int64)
	}
	r.SkipReasons[reason] += n
	r.RecordsSkipped += n
}

// Computed returns the stages that were recomputed in this run.
func (r *RunReport) Computed() []Stage {
	var out []Stage
	for _, s := range r.Stages {
		if s.Outcome == StageOutcomeComputed {
			out = append(out, s.Stage)
		}
	}
	return out
}

// Cached returns the stages that were served from cache in this run.
func (r *RunReport) Cached() []Stage {
	var out []Stage
	for _, s := range r.Stages {
		if s.Outcome == StageOutcomeCached {
			out = append(out, s.Stage)
		}
	}
	return out
}
