package services

import (
	"context"

	"github.com/ekaya-inc/querysight/pkg/modelgraph"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/services/dag"
)

// These adapters convert between the services package types and the dag package types.
// This allows the dag package to remain independent of the services package,
// avoiding import cycles.

// GraphLoader parses the project metadata into a model graph.
type GraphLoader func(ctx context.Context) (*modelgraph.Graph, error)

// NewProjectGraphLoader loads the project at path on every call so edits to the
// project between runs change the graph fingerprint.
func NewProjectGraphLoader(path string) GraphLoader {
	return func(ctx context.Context) (*modelgraph.Graph, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return modelgraph.Load(path)
	}
}

// ModelIntegrationAdapter combines graph loading and mapping for the model integration node.
type ModelIntegrationAdapter struct {
	mapping ModelMappingService
	load    GraphLoader
}

// NewModelIntegrationAdapter creates a new adapter.
func NewModelIntegrationAdapter(mapping ModelMappingService, load GraphLoader) dag.ModelIntegrationMethods {
	return &ModelIntegrationAdapter{mapping: mapping, load: load}
}

func (a *ModelIntegrationAdapter) LoadGraph(ctx context.Context) (*modelgraph.Graph, error) {
	return a.load(ctx)
}

func (a *ModelIntegrationAdapter) Map(ctx context.Context, analysis *models.PatternAnalysis, graph *modelgraph.Graph) (*models.ModelIntegration, error) {
	return a.mapping.Map(ctx, analysis, graph)
}

func (a *ModelIntegrationAdapter) InferPlurals() bool {
	return a.mapping.InferPlurals()
}
