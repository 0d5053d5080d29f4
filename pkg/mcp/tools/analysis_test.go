package tools

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/services"
)

var fixedNow = time.Date(2024, 6, 3, 8, 15, 0, 0, time.UTC)

func analysisResult(level models.Stage) *services.RunResult {
	result := &services.RunResult{
		Report: &models.RunReport{
			RunID:            uuid.New(),
			Level:            level,
			RecordsProcessed: 65,
			Stages: []models.StageReport{
				{Stage: models.StageCollection, Outcome: models.StageOutcomeCached},
				{Stage: models.StagePatternAnalysis, Outcome: models.StageOutcomeComputed},
			},
		},
		Patterns: &models.PatternAnalysis{
			RecordsProcessed: 65,
			Patterns: []models.QueryPattern{
				{PatternID: "p-orders", Kind: models.QueryKindSelect, Count: 50, AvgDurationMs: 20, Tables: []string{"analytics.orders"}},
				{PatternID: "p-customers", Kind: models.QueryKindSelect, Count: 10, AvgDurationMs: 1500, Tables: []string{"analytics.customers"}},
				{PatternID: "p-events", Kind: models.QueryKindInsert, Count: 5, AvgDurationMs: 300, Tables: []string{"raw.events"}},
			},
		},
		Integration: &models.ModelIntegration{
			Mappings: []models.PatternModelMapping{
				{PatternID: "p-orders", Models: []string{"orders"}, Basis: models.MappingBasisExact},
				{PatternID: "p-customers", Models: []string{"customers"}, Basis: models.MappingBasisNormalized},
				{PatternID: "p-events", Models: []string{}, Basis: models.MappingBasisUnmapped, UnmappedTables: []string{"raw.events"}},
			},
			Coverage: models.CoverageSummary{
				TotalPatterns:    3,
				MappedPatterns:   2,
				UnmappedPatterns: 1,
				Coverage:         2.0 / 3.0,
				UncoveredTables:  []string{"raw.events"},
			},
		},
	}
	if level == models.StageOptimizationReady {
		result.Optimization = &models.OptimizationReady{
			Candidates:         []models.PatternRow{{Pattern: result.Patterns.Patterns[1], ComplexityScore: 0.8}},
			Suggestions:        []models.Suggestion{},
			SuggestionsSkipped: "no suggestion provider configured",
		}
	}
	return result
}

func newAnalysisFixture(t *testing.T, runFunc func(ctx context.Context, req *services.RunRequest) (*services.RunResult, error)) (*mockPipeline, *AnalysisToolDeps) {
	t.Helper()
	if runFunc == nil {
		runFunc = func(_ context.Context, req *services.RunRequest) (*services.RunResult, error) {
			return analysisResult(req.Level), nil
		}
	}
	pipeline := &mockPipeline{runFunc: runFunc}
	deps := &AnalysisToolDeps{
		Pipeline:    pipeline,
		View:        services.NewPatternView(zap.NewNop()),
		DefaultDays: 7,
		Logger:      zap.NewNop(),
		Now:         func() time.Time { return fixedNow },
	}
	return pipeline, deps
}

func TestRegisterAnalysisTools(t *testing.T) {
	s := newTestServer()
	_, deps := newAnalysisFixture(t, nil)
	RegisterAnalysisTools(s, deps)

	names := listTools(t, s)
	assert.Contains(t, names, "run_analysis")
	assert.Contains(t, names, "list_patterns")
	assert.Contains(t, names, "coverage_summary")
}

func TestRunAnalysisTool(t *testing.T) {
	s := newTestServer()
	pipeline, deps := newAnalysisFixture(t, nil)
	RegisterAnalysisTools(s, deps)

	resp := callTool(t, s, "run_analysis", map[string]any{
		"days":          3.0,
		"focus":         "slow",
		"exclude_users": []any{"admin"},
		"query_kinds":   `["select"]`,
		"models":        "orders,customers",
		"force_reset":   true,
	})
	require.False(t, resp.IsError, resp.Text)

	body := decode[runAnalysisResponse](t, resp)
	assert.Equal(t, models.StageOptimizationReady, body.Report.Level)
	assert.Equal(t, 3, body.Summary.TotalPatterns)
	require.NotNil(t, body.Optimization)
	assert.Len(t, body.Optimization.Candidates, 1)
	assert.Equal(t, "no suggestion provider configured", body.Optimization.SuggestionsSkipped)

	req := pipeline.lastRequest(t)
	assert.Equal(t, models.StageOptimizationReady, req.Level)
	assert.Equal(t, models.QueryFocusSlow, req.Filter.Focus)
	assert.Equal(t, time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC), req.Filter.End)
	assert.Equal(t, 72*time.Hour, req.Filter.End.Sub(req.Filter.Start))
	assert.Equal(t, []string{"admin"}, req.Filter.ExcludeUsers)
	assert.Equal(t, []models.QueryKind{models.QueryKindSelect}, req.Filter.QueryKinds)
	assert.Equal(t, []string{"orders", "customers"}, req.PatternFilter.Models)
	assert.True(t, req.ForceReset)
}

func TestRunAnalysisTool_Level(t *testing.T) {
	s := newTestServer()
	pipeline, deps := newAnalysisFixture(t, nil)
	RegisterAnalysisTools(s, deps)

	resp := callTool(t, s, "run_analysis", map[string]any{"level": "2"})
	require.False(t, resp.IsError, resp.Text)
	assert.Equal(t, models.StagePatternAnalysis, pipeline.lastRequest(t).Level)

	body := decode[runAnalysisResponse](t, resp)
	assert.Nil(t, body.Optimization)
}

func TestRunAnalysisTool_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"level", map[string]any{"level": "level7"}},
		{"focus", map[string]any{"focus": "fastest"}},
		{"sort", map[string]any{"sort_by": "name"}},
		{"kind", map[string]any{"query_kinds": []any{"MERGE"}}},
		{"fractional days", map[string]any{"days": 1.5}},
		{"non-string user", map[string]any{"include_users": []any{1.0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			pipeline, deps := newAnalysisFixture(t, nil)
			RegisterAnalysisTools(s, deps)

			resp := callTool(t, s, "run_analysis", tt.args)
			assert.True(t, resp.IsError)
			errResp := decode[ErrorResponse](t, resp)
			assert.Equal(t, CodeInvalidArgument, errResp.Code)
			assert.Empty(t, pipeline.requests, "pipeline must not run on invalid input")
		})
	}
}

func TestRunAnalysisTool_SourceUnavailable(t *testing.T) {
	s := newTestServer()
	_, deps := newAnalysisFixture(t, func(_ context.Context, req *services.RunRequest) (*services.RunResult, error) {
		report := &models.RunReport{Level: req.Level, Stages: []models.StageReport{
			{Stage: models.StageCollection, Outcome: models.StageOutcomeFailed},
		}}
		return &services.RunResult{Report: report},
			fmt.Errorf("collection stage: open postgres log source: password=secret: %w", apperrors.ErrSourceUnavailable)
	})
	RegisterAnalysisTools(s, deps)

	resp := callTool(t, s, "run_analysis", nil)
	assert.True(t, resp.IsError)
	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, CodeSourceUnavailable, errResp.Code)
	assert.NotContains(t, errResp.Message, "secret")

	details, ok := errResp.Details.(map[string]any)
	require.True(t, ok)
	assert.NotNil(t, details["report"])
}

func TestRunAnalysisTool_InternalError(t *testing.T) {
	s := newTestServer()
	_, deps := newAnalysisFixture(t, func(_ context.Context, _ *services.RunRequest) (*services.RunResult, error) {
		return nil, fmt.Errorf("disk full")
	})
	RegisterAnalysisTools(s, deps)

	resp := callTool(t, s, "run_analysis", nil)
	assert.True(t, resp.IsError || resp.RPCErr != "", "internal errors must not look like success")
	assert.Contains(t, resp.Text+resp.RPCErr, "disk full")
}

func TestListPatternsTool_PagingOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"huge page", map[string]any{"page": float64(1 << 62)}},
		{"negative page", map[string]any{"page": -1.0}},
		{"huge page size", map[string]any{"page_size": 1e6}},
		{"negative page size", map[string]any{"page_size": -3.0}},
		{"fractional page", map[string]any{"page": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			pipeline, deps := newAnalysisFixture(t, nil)
			RegisterAnalysisTools(s, deps)

			resp := callTool(t, s, "list_patterns", tt.args)
			assert.True(t, resp.IsError)
			assert.Equal(t, CodeInvalidArgument, decode[ErrorResponse](t, resp).Code)
			assert.Empty(t, pipeline.requests)
		})
	}
}

func TestListPatternsTool(t *testing.T) {
	s := newTestServer()
	pipeline, deps := newAnalysisFixture(t, nil)
	RegisterAnalysisTools(s, deps)

	resp := callTool(t, s, "list_patterns", map[string]any{
		"sort_by":   "duration",
		"page_size": 2.0,
		"page":      1.0,
		"level":     "1",
	})
	require.False(t, resp.IsError, resp.Text)

	page := decode[services.Page](t, resp)
	assert.Equal(t, 3, page.TotalRows)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "p-customers", page.Rows[0].Pattern.PatternID)
	assert.Equal(t, "p-events", page.Rows[1].Pattern.PatternID)
	require.NotNil(t, page.Rows[0].Mapping)
	assert.Equal(t, []string{"customers"}, page.Rows[0].Mapping.Models)

	// list_patterns always runs through model integration.
	assert.Equal(t, models.StageModelIntegration, pipeline.lastRequest(t).Level)
}

func TestListPatternsTool_ModelFilter(t *testing.T) {
	s := newTestServer()
	_, deps := newAnalysisFixture(t, nil)
	RegisterAnalysisTools(s, deps)

	resp := callTool(t, s, "list_patterns", map[string]any{"models": []any{"orders"}})
	require.False(t, resp.IsError, resp.Text)

	page := decode[services.Page](t, resp)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "p-orders", page.Rows[0].Pattern.PatternID)
}

func TestCoverageSummaryTool(t *testing.T) {
	s := newTestServer()
	pipeline, deps := newAnalysisFixture(t, nil)
	RegisterAnalysisTools(s, deps)

	resp := callTool(t, s, "coverage_summary", nil)
	require.False(t, resp.IsError, resp.Text)

	body := decode[coverageResponse](t, resp)
	require.NotNil(t, body.Coverage)
	assert.Equal(t, 2, body.Coverage.MappedPatterns)
	assert.Equal(t, []string{"raw.events"}, body.Coverage.UncoveredTables)
	assert.Equal(t, models.StageModelIntegration, pipeline.lastRequest(t).Level)
}
