package services

import (
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/models"
)

const (
	// DefaultPageSize is used when a view query does not set one.
	DefaultPageSize = 20
	// MaxPageSize caps the rows returned in one page.
	MaxPageSize = 1000
)

// ViewQuery selects, orders and pages the patterns of a run.
type ViewQuery struct {
	Filter    models.PatternFilter `json:"filter"`
	SortBy    models.SortField     `json:"sort_by"`
	Ascending bool                 `json:"ascending,omitempty"`
	Page      int                  `json:"page"`
	PageSize  int                  `json:"page_size"`
}

// Page is one page of pattern rows.
type Page struct {
	Rows       []models.PatternRow `json:"rows"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"page_size"`
	TotalRows  int                 `json:"total_rows"`
	TotalPages int                 `json:"total_pages"`
}

// DurationBuckets counts patterns by average duration.
type DurationBuckets struct {
	Slow   int `json:"slow"`
	Medium int `json:"medium"`
	Fast   int `json:"fast"`
}

// ViewSummary is the headline view of a run.
type ViewSummary struct {
	TotalPatterns      int                      `json:"total_patterns"`
	TotalExecutions    int64                    `json:"total_executions"`
	RecordsProcessed   int64                    `json:"records_processed"`
	UnparseableRecords int64                    `json:"unparseable_records"`
	Durations          DurationBuckets          `json:"durations"`
	ByKind             map[models.QueryKind]int `json:"by_kind"`
	Coverage           *models.CoverageSummary  `json:"coverage,omitempty"`
}

// PatternView is the read model over a pipeline result.
type PatternView interface {
	// Query filters, sorts and pages the patterns of result.
	Query(result *RunResult, q ViewQuery) Page

	// Summary reports totals, duration buckets and, when integration ran, coverage.
	Summary(result *RunResult) ViewSummary
}

type patternView struct {
	logger *zap.Logger
}

func NewPatternView(logger *zap.Logger) PatternView {
	return &patternView{logger: logger.Named("pattern-view")}
}

var _ PatternView = (*patternView)(nil)

// Rows joins every pattern of result with its mapping, unfiltered and unsorted.
func Rows(result *RunResult) []models.PatternRow {
	if result == nil || result.Patterns == nil {
		return nil
	}
	rows := make([]models.PatternRow, 0, len(result.Patterns.Patterns))
	for _, p := range result.Patterns.Patterns {
		row := models.PatternRow{Pattern: p, ComplexityScore: p.ComplexityScore()}
		if result.Integration != nil {
			row.Mapping = result.Integration.Mapping(p.PatternID)
		}
		rows = append(rows, row)
	}
	return rows
}

// FilterRows keeps the rows that match f.
func FilterRows(rows []models.PatternRow, f *models.PatternFilter) []models.PatternRow {
	if f.IsEmpty() {
		return rows
	}
	out := make([]models.PatternRow, 0, len(rows))
	for i := range rows {
		if f.Matches(&rows[i].Pattern, rows[i].Mapping) {
			out = append(out, rows[i])
		}
	}
	return out
}

// SortRows orders rows by field, descending unless ascending is set. Ties break on
// pattern id so the order is stable across runs.
func SortRows(rows []models.PatternRow, field models.SortField, ascending bool) {
	metric := func(r *models.PatternRow) float64 {
		switch field {
		case models.SortByDuration:
			return r.Pattern.AvgDurationMs
		case models.SortByMemory:
			return r.Pattern.AvgMemoryBytes
		default:
			return float64(r.Pattern.Count)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := metric(&rows[i]), metric(&rows[j])
		if a != b {
			if ascending {
				return a < b
			}
			return a > b
		}
		return rows[i].Pattern.PatternID < rows[j].Pattern.PatternID
	})
}

func (v *patternView) Query(result *RunResult, q ViewQuery) Page {
	rows := FilterRows(Rows(result), &q.Filter)
	SortRows(rows, q.SortBy, q.Ascending)

	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, MaxPageSize)
	page := max(q.Page, 1)

	out := Page{
		Rows:       []models.PatternRow{},
		Page:       page,
		PageSize:   size,
		TotalRows:  len(rows),
		TotalPages: (len(rows) + size - 1) / size,
	}
	// Pages past the end are empty; start is only computed for pages that exist.
	if page <= out.TotalPages {
		start := (page - 1) * size
		out.Rows = rows[start:min(start+size, len(rows))]
	}
	return out
}

func (v *patternView) Summary(result *RunResult) ViewSummary {
	summary := ViewSummary{ByKind: make(map[models.QueryKind]int)}
	if result == nil || result.Patterns == nil {
		return summary
	}

	summary.TotalPatterns = len(result.Patterns.Patterns)
	summary.RecordsProcessed = result.Patterns.RecordsProcessed
	summary.UnparseableRecords = result.Patterns.UnparseableRecords
	for i := range result.Patterns.Patterns {
		p := &result.Patterns.Patterns[i]
		summary.TotalExecutions += p.Count
		summary.ByKind[p.Kind]++
		switch p.DurationBucket() {
		case "slow":
			summary.Durations.Slow++
		case "medium":
			summary.Durations.Medium++
		default:
			summary.Durations.Fast++
		}
	}
	if result.Integration != nil {
		coverage := result.Integration.Coverage
		summary.Coverage = &coverage
	}
	return summary
}
