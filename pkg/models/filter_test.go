package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowForDays(t *testing.T) {
	now := time.Date(2024, 3, 10, 14, 25, 0, 0, time.UTC)

	start, end := WindowForDays(now, 7)
	assert.Equal(t, time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC), end)
	assert.Equal(t, end.Add(-7*24*time.Hour), start)

	// Any instant within the same hour yields the same window.
	s2, e2 := WindowForDays(now.Add(30*time.Minute), 7)
	assert.Equal(t, start, s2)
	assert.Equal(t, end, e2)

	s3, e3 := WindowForDays(now, 0)
	assert.Equal(t, 24*time.Hour, e3.Sub(s3))
}

func TestCollectionFilter_Matches(t *testing.T) {
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	filter := CollectionFilter{
		Start:         base,
		End:           base.Add(24 * time.Hour),
		ExcludeUsers:  []string{"admin"},
		QueryKinds:    []QueryKind{QueryKindSelect},
		MinDurationMs: 5,
	}

	tests := []struct {
		name   string
		record QueryRecord
		want   bool
	}{
		{"inside window", QueryRecord{StartTime: base.Add(time.Hour), User: "bi", Kind: QueryKindSelect, DurationMs: 10}, true},
		{"before window", QueryRecord{StartTime: base.Add(-time.Hour), User: "bi", Kind: QueryKindSelect, DurationMs: 10}, false},
		{"no timestamp", QueryRecord{User: "bi", Kind: QueryKindSelect, DurationMs: 10}, true},
		{"excluded user", QueryRecord{StartTime: base, User: "admin", Kind: QueryKindSelect, DurationMs: 10}, false},
		{"wrong kind", QueryRecord{StartTime: base, User: "bi", Kind: QueryKindInsert, DurationMs: 10}, false},
		{"unknown kind kept", QueryRecord{StartTime: base, User: "bi", DurationMs: 10}, true},
		{"too fast", QueryRecord{StartTime: base, User: "bi", Kind: QueryKindSelect, DurationMs: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filter.Matches(&tt.record))
		})
	}
}

func TestPatternFilter_Matches(t *testing.T) {
	p := &QueryPattern{PatternID: "p1", Count: 10, AvgDurationMs: 50, Tables: []string{"analytics.orders"}}
	m := &PatternModelMapping{PatternID: "p1", Models: []string{"orders"}}

	assert.True(t, (&PatternFilter{}).IsEmpty())
	assert.True(t, (&PatternFilter{Models: []string{"ORDERS"}}).Matches(p, m))
	assert.False(t, (&PatternFilter{Models: []string{"orders"}}).Matches(p, nil))
	assert.True(t, (&PatternFilter{Tables: []string{"analytics.orders"}}).Matches(p, m))
	assert.False(t, (&PatternFilter{PatternIDs: []string{"p2"}}).Matches(p, m))
	assert.False(t, (&PatternFilter{MinFrequency: 11}).Matches(p, m))
	assert.False(t, (&PatternFilter{MinDurationMs: 51}).Matches(p, m))
}

func TestParseHelpers(t *testing.T) {
	focus, err := ParseQueryFocus("SLOW")
	require.NoError(t, err)
	assert.Equal(t, QueryFocusSlow, focus)
	_, err = ParseQueryFocus("fastest")
	assert.Error(t, err)

	sortBy, err := ParseSortField("")
	require.NoError(t, err)
	assert.Equal(t, SortByFrequency, sortBy)
	_, err = ParseSortField("name")
	assert.Error(t, err)
}
