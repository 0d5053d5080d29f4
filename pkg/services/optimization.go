package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/llm"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/services/dag"
)

const (
	// DefaultCandidateLimit caps the patterns sent for suggestions when none is configured.
	DefaultCandidateLimit = 20

	skippedNoProvider   = "no suggestion provider configured"
	skippedNoCandidates = "no candidate patterns"
)

// OptimizationService ranks patterns for optimization and asks the suggestion
// provider, if any, for recommendations.
type OptimizationService interface {
	Prepare(ctx context.Context, patterns *models.PatternAnalysis, integration *models.ModelIntegration, opts dag.OptimizationOptions) (*models.OptimizationReady, error)

	// SuggesterIdentity returns "provider:model", or "" without a provider.
	SuggesterIdentity() string
}

type optimizationService struct {
	suggester llm.Suggester
	timeout   time.Duration
	logger    *zap.Logger
}

// NewOptimizationService uses suggester when non-nil. A zero timeout disables the
// suggestion deadline.
func NewOptimizationService(suggester llm.Suggester, timeout time.Duration, logger *zap.Logger) OptimizationService {
	return &optimizationService{
		suggester: suggester,
		timeout:   timeout,
		logger:    logger.Named("optimization"),
	}
}

var _ OptimizationService = (*optimizationService)(nil)

func (s *optimizationService) SuggesterIdentity() string {
	if s.suggester == nil {
		return ""
	}
	return s.suggester.Identity()
}

// RankCandidates filters rows and orders them by sortBy, or by complexity score when
// sortBy is empty, keeping at most limit rows.
func RankCandidates(rows []models.PatternRow, filter *models.PatternFilter, sortBy models.SortField, limit int) []models.PatternRow {
	rows = FilterRows(rows, filter)
	if sortBy != "" {
		SortRows(rows, sortBy, false)
	} else {
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].ComplexityScore != rows[j].ComplexityScore {
				return rows[i].ComplexityScore > rows[j].ComplexityScore
			}
			return rows[i].Pattern.PatternID < rows[j].Pattern.PatternID
		})
	}
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func (s *optimizationService) Prepare(ctx context.Context, patterns *models.PatternAnalysis, integration *models.ModelIntegration, opts dag.OptimizationOptions) (*models.OptimizationReady, error) {
	rows := Rows(&RunResult{Patterns: patterns, Integration: integration})
	ready := &models.OptimizationReady{
		Candidates:  RankCandidates(rows, &opts.Filter, opts.SortBy, opts.CandidateLimit),
		Suggestions: []models.Suggestion{},
	}

	switch {
	case s.suggester == nil:
		ready.SuggestionsSkipped = skippedNoProvider
	case len(ready.Candidates) == 0:
		ready.SuggestionsSkipped = skippedNoCandidates
	}
	if ready.SuggestionsSkipped != "" {
		s.logger.Info("Skipping suggestions",
			zap.String("reason", ready.SuggestionsSkipped),
			zap.Int("candidates", len(ready.Candidates)))
		return ready, nil
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var coverage *models.CoverageSummary
	if integration != nil {
		coverage = &integration.Coverage
	}
	suggestions, err := s.suggester.Suggest(sctx, &llm.SuggestionRequest{
		Candidates: ready.Candidates,
		Coverage:   coverage,
	})
	if err != nil {
		if timedOut(ctx, sctx) || (ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)) {
			return nil, fmt.Errorf("suggestions from %s after %s: %w", s.suggester.Identity(), s.timeout, apperrors.ErrStageTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("suggestions from %s: %w", s.suggester.Identity(), err)
	}

	ready.Suggestions = suggestions
	s.logger.Info("Optimization candidates ready",
		zap.Int("candidates", len(ready.Candidates)),
		zap.Int("suggestions", len(suggestions)))
	return ready, nil
}

func (s *optimizationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
