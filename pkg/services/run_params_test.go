package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/models"
)

func TestRunParams_RunRequest(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 41, 0, 0, time.UTC)
	params := RunParams{
		Days:         3,
		Focus:        "slow",
		Level:        "2",
		MinFrequency: 5,
		SampleSize:   100,
		ExcludeUsers: []string{" admin ", ""},
		QueryKinds:   []string{"select"},
		Models:       []string{"orders"},
		SortBy:       "duration",
		ForceReset:   true,
	}

	req, err := params.RunRequest(now)
	require.NoError(t, err)

	assert.Equal(t, models.StagePatternAnalysis, req.Level)
	assert.Equal(t, models.QueryFocusSlow, req.Filter.Focus)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), req.Filter.End)
	assert.Equal(t, 72*time.Hour, req.Filter.End.Sub(req.Filter.Start))
	assert.Equal(t, []string{"admin"}, req.Filter.ExcludeUsers)
	assert.Equal(t, []models.QueryKind{models.QueryKindSelect}, req.Filter.QueryKinds)
	assert.Equal(t, 100, req.Filter.SampleSize)
	assert.Equal(t, int64(5), req.MinFrequency)
	assert.Equal(t, []string{"orders"}, req.PatternFilter.Models)
	assert.Equal(t, models.SortByDuration, req.SortBy)
	assert.True(t, req.ForceReset)
}

func TestRunParams_RunRequestDefaults(t *testing.T) {
	req, err := (&RunParams{Days: 7}).RunRequest(time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.Stage(""), req.Level)
	assert.Equal(t, models.QueryFocusAll, req.Filter.Focus)
	assert.Equal(t, models.SortByFrequency, req.SortBy)
	assert.Empty(t, req.Filter.QueryKinds)
}

func TestRunParams_RunRequestInvalid(t *testing.T) {
	tests := []struct {
		name   string
		params RunParams
	}{
		{"level", RunParams{Level: "level9"}},
		{"focus", RunParams{Focus: "fastest"}},
		{"sort", RunParams{SortBy: "name"}},
		{"kind", RunParams{QueryKinds: []string{"MERGE"}}},
		{"negative", RunParams{SampleSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.params.RunRequest(time.Now())
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
		})
	}
}
