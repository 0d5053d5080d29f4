package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/models"
)

func viewTestResult() *RunResult {
	return &RunResult{
		Patterns: &models.PatternAnalysis{
			RecordsProcessed:   120,
			UnparseableRecords: 2,
			Patterns: []models.QueryPattern{
				{PatternID: "a", Kind: models.QueryKindSelect, Count: 50, AvgDurationMs: 20, AvgMemoryBytes: 1000, Tables: []string{"orders"}},
				{PatternID: "b", Kind: models.QueryKindSelect, Count: 10, AvgDurationMs: 1500, AvgMemoryBytes: 5000, Tables: []string{"customers"}},
				{PatternID: "c", Kind: models.QueryKindInsert, Count: 50, AvgDurationMs: 300, AvgMemoryBytes: 200, Tables: []string{"orders"}},
				{PatternID: "d", Kind: models.QueryKindSelect, Count: 5, AvgDurationMs: 100, AvgMemoryBytes: 100, Tables: []string{"events"}},
			},
		},
		Integration: &models.ModelIntegration{
			Mappings: []models.PatternModelMapping{
				{PatternID: "a", Models: []string{"stg_orders"}, Basis: models.MappingBasisExact},
				{PatternID: "b", Models: []string{"dim_customers"}, Basis: models.MappingBasisInferred},
				{PatternID: "c", Models: []string{"stg_orders"}, Basis: models.MappingBasisExact},
				{PatternID: "d", Models: []string{}, Basis: models.MappingBasisUnmapped},
			},
			Coverage: models.CoverageSummary{TotalPatterns: 4, MappedPatterns: 3, Coverage: 0.75},
		},
	}
}

func patternIDs(rows []models.PatternRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.Pattern.PatternID
	}
	return ids
}

func TestPatternView_Sort(t *testing.T) {
	view := NewPatternView(zap.NewNop())

	tests := []struct {
		name      string
		sortBy    models.SortField
		ascending bool
		want      []string
	}{
		{"frequency ties by id", models.SortByFrequency, false, []string{"a", "c", "b", "d"}},
		{"default is frequency", "", false, []string{"a", "c", "b", "d"}},
		{"duration", models.SortByDuration, false, []string{"b", "c", "d", "a"}},
		{"memory", models.SortByMemory, false, []string{"b", "a", "c", "d"}},
		{"duration ascending", models.SortByDuration, true, []string{"a", "d", "c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := view.Query(viewTestResult(), ViewQuery{SortBy: tt.sortBy, Ascending: tt.ascending})
			assert.Equal(t, tt.want, patternIDs(page.Rows))
		})
	}
}

func TestPatternView_Filter(t *testing.T) {
	view := NewPatternView(zap.NewNop())

	tests := []struct {
		name   string
		filter models.PatternFilter
		want   []string
	}{
		{"by model", models.PatternFilter{Models: []string{"STG_ORDERS"}}, []string{"a", "c"}},
		{"by table", models.PatternFilter{Tables: []string{"customers"}}, []string{"b"}},
		{"by id", models.PatternFilter{PatternIDs: []string{"d", "b"}}, []string{"b", "d"}},
		{"min frequency", models.PatternFilter{MinFrequency: 10}, []string{"a", "c", "b"}},
		{"min duration", models.PatternFilter{MinDurationMs: 300}, []string{"c", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := view.Query(viewTestResult(), ViewQuery{Filter: tt.filter})
			assert.Equal(t, tt.want, patternIDs(page.Rows))
		})
	}
}

func TestPatternView_Paginate(t *testing.T) {
	view := NewPatternView(zap.NewNop())
	result := viewTestResult()

	first := view.Query(result, ViewQuery{PageSize: 3})
	assert.Equal(t, []string{"a", "c", "b"}, patternIDs(first.Rows))
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 4, first.TotalRows)
	assert.Equal(t, 2, first.TotalPages)

	second := view.Query(result, ViewQuery{PageSize: 3, Page: 2})
	assert.Equal(t, []string{"d"}, patternIDs(second.Rows))

	beyond := view.Query(result, ViewQuery{PageSize: 3, Page: 9})
	assert.Empty(t, beyond.Rows)
	assert.NotNil(t, beyond.Rows)

	defaults := view.Query(result, ViewQuery{})
	assert.Equal(t, DefaultPageSize, defaults.PageSize)
	assert.Len(t, defaults.Rows, 4)
}

func TestPatternView_PaginateExtremeValues(t *testing.T) {
	view := NewPatternView(zap.NewNop())
	result := viewTestResult()

	far := view.Query(result, ViewQuery{Page: 1 << 62, PageSize: 4})
	assert.Empty(t, far.Rows)
	assert.Equal(t, 1<<62, far.Page)
	assert.Equal(t, 1, far.TotalPages)

	huge := view.Query(result, ViewQuery{Page: 2, PageSize: 1 << 62})
	assert.Equal(t, MaxPageSize, huge.PageSize)
	assert.Empty(t, huge.Rows)

	negative := view.Query(result, ViewQuery{Page: -5, PageSize: -1})
	assert.Equal(t, 1, negative.Page)
	assert.Len(t, negative.Rows, 4)
}

func TestPatternView_RowsCarryMappingAndScore(t *testing.T) {
	page := NewPatternView(zap.NewNop()).Query(viewTestResult(), ViewQuery{Filter: models.PatternFilter{PatternIDs: []string{"b"}}})
	require.Len(t, page.Rows, 1)

	row := page.Rows[0]
	require.NotNil(t, row.Mapping)
	assert.Equal(t, []string{"dim_customers"}, row.Mapping.Models)
	assert.InDelta(t, row.Pattern.ComplexityScore(), row.ComplexityScore, 1e-9)
}

func TestPatternView_WithoutIntegration(t *testing.T) {
	result := viewTestResult()
	result.Integration = nil
	view := NewPatternView(zap.NewNop())

	page := view.Query(result, ViewQuery{})
	for _, row := range page.Rows {
		assert.Nil(t, row.Mapping)
	}
	assert.Empty(t, view.Query(result, ViewQuery{Filter: models.PatternFilter{Models: []string{"stg_orders"}}}).Rows)
	assert.Nil(t, view.Summary(result).Coverage)
}

func TestPatternView_Summary(t *testing.T) {
	summary := NewPatternView(zap.NewNop()).Summary(viewTestResult())

	assert.Equal(t, 4, summary.TotalPatterns)
	assert.Equal(t, int64(115), summary.TotalExecutions)
	assert.Equal(t, int64(120), summary.RecordsProcessed)
	assert.Equal(t, int64(2), summary.UnparseableRecords)
	assert.Equal(t, DurationBuckets{Slow: 1, Medium: 2, Fast: 1}, summary.Durations)
	assert.Equal(t, map[models.QueryKind]int{models.QueryKindSelect: 3, models.QueryKindInsert: 1}, summary.ByKind)
	require.NotNil(t, summary.Coverage)
	assert.InDelta(t, 0.75, summary.Coverage.Coverage, 1e-9)

	empty := NewPatternView(zap.NewNop()).Summary(nil)
	assert.Zero(t, empty.TotalPatterns)
}
