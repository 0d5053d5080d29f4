package dag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// PatternAnalysisMethods defines the methods needed for grouping records into patterns.
type PatternAnalysisMethods interface {
	Analyze(ctx context.Context, records []models.QueryRecord, minFrequency int64) (*models.PatternAnalysis, error)
}

// PatternAnalysisNode fingerprints the collected records and aggregates them per pattern.
type PatternAnalysisNode struct {
	*BaseNode
	analysis PatternAnalysisMethods
}

// NewPatternAnalysisNode creates a new pattern analysis node.
func NewPatternAnalysisNode(c *cache.Cache, analysis PatternAnalysisMethods, logger *zap.Logger) *PatternAnalysisNode {
	return &PatternAnalysisNode{
		BaseNode: NewBaseNode(models.StagePatternAnalysis, c, logger),
		analysis: analysis,
	}
}

func (n *PatternAnalysisNode) Execute(ctx context.Context, state *RunState) error {
	parent, err := state.upstream(models.StageCollection)
	if err != nil {
		return err
	}

	minFrequency := max(state.MinFrequency, 1)
	key, err := cache.NewKeyBuilder(models.StagePatternAnalysis).
		DerivedFrom(parent.Key).
		Input("records", parent.Fingerprint).
		Filter("min_frequency", minFrequency).
		Build()
	if err != nil {
		return err
	}

	analysis, err := cachedStage(ctx, n.BaseNode, state, key, func(ctx context.Context) (*models.PatternAnalysis, error) {
		n.ReportProgress(state, fmt.Sprintf("Fingerprinting %d records...", len(state.Collection.Records)))
		return n.analysis.Analyze(ctx, state.Collection.Records, minFrequency)
	})
	if err != nil {
		return err
	}
	state.Patterns = analysis

	n.ReportProgress(state, fmt.Sprintf("Found %d patterns", len(analysis.Patterns)))
	return nil
}
