package dag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/modelgraph"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// ModelIntegrationMethods defines the methods needed for mapping patterns to models.
type ModelIntegrationMethods interface {
	// LoadGraph parses the project metadata into a model graph.
	LoadGraph(ctx context.Context) (*modelgraph.Graph, error)

	Map(ctx context.Context, analysis *models.PatternAnalysis, graph *modelgraph.Graph) (*models.ModelIntegration, error)

	// InferPlurals reports whether singular/plural table matching is enabled.
	InferPlurals() bool
}

// ModelIntegrationNode attributes patterns to project models and computes coverage.
// The graph is always loaded since its fingerprint is part of the key.
type ModelIntegrationNode struct {
	*BaseNode
	integration ModelIntegrationMethods
}

// NewModelIntegrationNode creates a new model integration node.
func NewModelIntegrationNode(c *cache.Cache, integration ModelIntegrationMethods, logger *zap.Logger) *ModelIntegrationNode {
	return &ModelIntegrationNode{
		BaseNode:    NewBaseNode(models.StageModelIntegration, c, logger),
		integration: integration,
	}
}

func (n *ModelIntegrationNode) Execute(ctx context.Context, state *RunState) error {
	parent, err := state.upstream(models.StagePatternAnalysis)
	if err != nil {
		return err
	}

	n.ReportProgress(state, "Loading project models...")
	graph, err := n.integration.LoadGraph(ctx)
	if err != nil {
		return err
	}
	state.Graph = graph

	key, err := cache.NewKeyBuilder(models.StageModelIntegration).
		DerivedFrom(parent.Key).
		Input("patterns", parent.Fingerprint).
		Input("graph", graph.Fingerprint()).
		Filter("infer_plurals", n.integration.InferPlurals()).
		Build()
	if err != nil {
		return err
	}

	integration, err := cachedStage(ctx, n.BaseNode, state, key, func(ctx context.Context) (*models.ModelIntegration, error) {
		n.ReportProgress(state, fmt.Sprintf("Mapping %d patterns onto %d models...", len(state.Patterns.Patterns), graph.Len()))
		return n.integration.Map(ctx, state.Patterns, graph)
	})
	if err != nil {
		return err
	}
	state.Integration = integration

	n.ReportProgress(state, fmt.Sprintf("Mapped %d of %d patterns",
		integration.Coverage.MappedPatterns, integration.Coverage.TotalPatterns))
	return nil
}
