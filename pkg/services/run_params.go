package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// RunParams are the loosely typed run options accepted by the CLI and MCP surfaces.
type RunParams struct {
	Days           int
	Focus          string
	Level          string
	MinFrequency   int64
	MinDurationMs  float64
	SampleSize     int
	IncludeUsers   []string
	ExcludeUsers   []string
	QueryKinds     []string
	PatternIDs     []string
	Models         []string
	Tables         []string
	SortBy         string
	CandidateLimit int
	ForceReset     bool
}

// RunRequest validates p and builds a request whose time window ends at the next
// whole hour after now.
func (p *RunParams) RunRequest(now time.Time) (*RunRequest, error) {
	var level models.Stage
	if strings.TrimSpace(p.Level) != "" {
		stage, err := models.ParseStage(p.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
		}
		level = stage
	}
	focus, err := models.ParseQueryFocus(p.Focus)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
	}
	sortBy, err := models.ParseSortField(p.SortBy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
	}
	if p.Days < 0 || p.MinFrequency < 0 || p.SampleSize < 0 || p.CandidateLimit < 0 {
		return nil, fmt.Errorf("days, min_frequency, sample_size and candidate_limit must not be negative: %w", apperrors.ErrInvalidArgument)
	}

	kinds := make([]models.QueryKind, 0, len(p.QueryKinds))
	for _, k := range p.QueryKinds {
		kind := models.QueryKind(strings.ToUpper(strings.TrimSpace(k)))
		if !kind.IsValid() {
			return nil, fmt.Errorf("unknown query kind %q: %w", k, apperrors.ErrInvalidArgument)
		}
		kinds = append(kinds, kind)
	}

	start, end := models.WindowForDays(now, p.Days)
	return &RunRequest{
		Level: level,
		Filter: models.CollectionFilter{
			Start:         start,
			End:           end,
			Focus:         focus,
			IncludeUsers:  trimAll(p.IncludeUsers),
			ExcludeUsers:  trimAll(p.ExcludeUsers),
			QueryKinds:    kinds,
			MinDurationMs: p.MinDurationMs,
			SampleSize:    p.SampleSize,
		},
		MinFrequency: p.MinFrequency,
		PatternFilter: models.PatternFilter{
			PatternIDs: trimAll(p.PatternIDs),
			Models:     trimAll(p.Models),
			Tables:     trimAll(p.Tables),
		},
		SortBy:         sortBy,
		CandidateLimit: p.CandidateLimit,
		ForceReset:     p.ForceReset,
	}, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
