package dag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// OptimizationOptions selects and ranks the candidates sent for suggestions.
type OptimizationOptions struct {
	Filter         models.PatternFilter
	SortBy         models.SortField
	CandidateLimit int
}

// OptimizationMethods defines the methods needed for preparing optimization candidates.
type OptimizationMethods interface {
	Prepare(ctx context.Context, patterns *models.PatternAnalysis, integration *models.ModelIntegration, opts OptimizationOptions) (*models.OptimizationReady, error)

	// SuggesterIdentity names the suggestion provider and model, or "" when none is configured.
	SuggesterIdentity() string
}

// OptimizationNode ranks candidate patterns and requests optimization suggestions.
type OptimizationNode struct {
	*BaseNode
	optimization OptimizationMethods
}

// NewOptimizationNode creates a new optimization node.
func NewOptimizationNode(c *cache.Cache, optimization OptimizationMethods, logger *zap.Logger) *OptimizationNode {
	return &OptimizationNode{
		BaseNode:     NewBaseNode(models.StageOptimizationReady, c, logger),
		optimization: optimization,
	}
}

func (n *OptimizationNode) Execute(ctx context.Context, state *RunState) error {
	parent, err := state.upstream(models.StageModelIntegration)
	if err != nil {
		return err
	}

	opts := OptimizationOptions{
		Filter:         state.PatternFilter,
		SortBy:         state.SortBy,
		CandidateLimit: state.CandidateLimit,
	}
	key, err := cache.NewKeyBuilder(models.StageOptimizationReady).
		DerivedFrom(parent.Key).
		Input("integration", parent.Fingerprint).
		Input("suggester", n.optimization.SuggesterIdentity()).
		Filter("patterns", opts.Filter).
		Filter("sort_by", opts.SortBy).
		Filter("candidate_limit", opts.CandidateLimit).
		Build()
	if err != nil {
		return err
	}

	ready, err := cachedStage(ctx, n.BaseNode, state, key, func(ctx context.Context) (*models.OptimizationReady, error) {
		n.ReportProgress(state, "Ranking optimization candidates...")
		return n.optimization.Prepare(ctx, state.Patterns, state.Integration, opts)
	})
	if err != nil {
		return err
	}
	state.Optimization = ready

	msg := fmt.Sprintf("%d candidates, %d suggestions", len(ready.Candidates), len(ready.Suggestions))
	if ready.SuggestionsSkipped != "" {
		msg = fmt.Sprintf("%d candidates, suggestions skipped: %s", len(ready.Candidates), ready.SuggestionsSkipped)
	}
	n.ReportProgress(state, msg)
	return nil
}
