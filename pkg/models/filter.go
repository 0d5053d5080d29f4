package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// QueryFocus selects which executions a collection prioritizes.
type QueryFocus string

const (
	QueryFocusAll      QueryFocus = "all"
	QueryFocusSlow     QueryFocus = "slow"
	QueryFocusFrequent QueryFocus = "frequent"
)

// ParseQueryFocus validates a focus value; empty means all.
func ParseQueryFocus(s string) (QueryFocus, error) {
	switch QueryFocus(strings.ToLower(strings.TrimSpace(s))) {
	case "", QueryFocusAll:
		return QueryFocusAll, nil
	case QueryFocusSlow:
		return QueryFocusSlow, nil
	case QueryFocusFrequent:
		return QueryFocusFrequent, nil
	}
	return "", fmt.Errorf("unknown query focus %q", s)
}

// WindowForDays returns the collection window covering the last days days. The end
// is rounded up to the next whole hour so repeated runs within the hour share
// a cache key.
func WindowForDays(now time.Time, days int) (start, end time.Time) {
	if days < 1 {
		days = 1
	}
	end = now.UTC().Truncate(time.Hour).Add(time.Hour)
	start = end.Add(-time.Duration(days) * 24 * time.Hour)
	return start, end
}

// CollectionFilter bounds what a log source returns and what the core keeps.
type CollectionFilter struct {
	Start            time.Time   `json:"start"`
	End              time.Time   `json:"end"`
	Focus            QueryFocus  `json:"focus"`
	IncludeUsers     []string    `json:"include_users,omitempty"`
	ExcludeUsers     []string    `json:"exclude_users,omitempty"`
	IncludeDatabases []string    `json:"include_databases,omitempty"`
	ExcludeDatabases []string    `json:"exclude_databases,omitempty"`
	QueryKinds       []QueryKind `json:"query_kinds,omitempty"`
	MinDurationMs    float64     `json:"min_duration_ms,omitempty"`
	SampleSize       int         `json:"sample_size,omitempty"`
}

// Matches reports whether a record passes every filter the core re-applies.
// The time window is only checked when both the window and the record carry timestamps.
func (f *CollectionFilter) Matches(r *QueryRecord) bool {
	if !r.StartTime.IsZero() {
		if !f.Start.IsZero() && r.StartTime.Before(f.Start) {
			return false
		}
		if !f.End.IsZero() && r.StartTime.After(f.End) {
			return false
		}
	}
	if len(f.IncludeUsers) > 0 && !slices.Contains(f.IncludeUsers, r.User) {
		return false
	}
	if slices.Contains(f.ExcludeUsers, r.User) {
		return false
	}
	if r.Database != "" {
		if len(f.IncludeDatabases) > 0 && !slices.Contains(f.IncludeDatabases, r.Database) {
			return false
		}
		if slices.Contains(f.ExcludeDatabases, r.Database) {
			return false
		}
	}
	if len(f.QueryKinds) > 0 && r.Kind != "" && !slices.Contains(f.QueryKinds, r.Kind) {
		return false
	}
	if f.MinDurationMs > 0 && r.DurationMs < f.MinDurationMs {
		return false
	}
	return true
}

// SortField selects the ordering of the pattern view.
type SortField string

const (
	SortByFrequency SortField = "frequency"
	SortByDuration  SortField = "duration"
	SortByMemory    SortField = "memory"
)

// ParseSortField validates a sort field; empty means frequency.
func ParseSortField(s string) (SortField, error) {
	switch SortField(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortByFrequency:
		return SortByFrequency, nil
	case SortByDuration:
		return SortByDuration, nil
	case SortByMemory:
		return SortByMemory, nil
	}
	return "", fmt.Errorf("unknown sort field %q (expected frequency, duration or memory)", s)
}

// PatternFilter narrows the set of patterns exposed by the view and sent for suggestions.
type PatternFilter struct {
	PatternIDs    []string `json:"pattern_ids,omitempty"`
	Models        []string `json:"models,omitempty"`
	Tables        []string `json:"tables,omitempty"`
	MinFrequency  int64    `json:"min_frequency,omitempty"`
	MinDurationMs float64  `json:"min_duration_ms,omitempty"`
}

// IsEmpty reports whether the filter selects every pattern.
func (f *PatternFilter) IsEmpty() bool {
	return len(f.PatternIDs) == 0 && len(f.Models) == 0 && len(f.Tables) == 0 &&
		f.MinFrequency <= 0 && f.MinDurationMs <= 0
}

// Matches applies the filter to a pattern and its (optional) mapping.
func (f *PatternFilter) Matches(p *QueryPattern, m *PatternModelMapping) bool {
	if len(f.PatternIDs) > 0 && !slices.Contains(f.PatternIDs, p.PatternID) {
		return false
	}
	if f.MinFrequency > 0 && p.Count < f.MinFrequency {
		return false
	}
	if f.MinDurationMs > 0 && p.AvgDurationMs < f.MinDurationMs {
		return false
	}
	if len(f.Tables) > 0 && !containsAnyFold(p.Tables, f.Tables) {
		return false
	}
	if len(f.Models) > 0 {
		if m == nil || !containsAnyFold(m.Models, f.Models) {
			return false
		}
	}
	return true
}

func containsAnyFold(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
