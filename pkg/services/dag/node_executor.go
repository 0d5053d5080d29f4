package dag

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/modelgraph"
	"github.com/ekaya-inc/querysight/pkg/models"
)

// NodeExecutor defines the interface for pipeline stage execution.
// Each node wraps a service method and carries its output forward in RunState.
type NodeExecutor interface {
	// Stage returns the stage the node computes.
	Stage() models.Stage

	// Execute produces the stage output, from cache when possible.
	Execute(ctx context.Context, state *RunState) error
}

// ProgressCallback is a function that reports progress updates.
type ProgressCallback func(stage models.Stage, message string)

// StageResult records how a stage output was obtained.
type StageResult struct {
	Key         cache.Key
	Fingerprint string
	Cached      bool
}

// RunState is shared by the nodes of one run: the request parameters going in
// and each stage output coming out.
type RunState struct {
	Filter         models.CollectionFilter
	MinFrequency   int64
	PatternFilter  models.PatternFilter
	SortBy         models.SortField
	CandidateLimit int
	ForceReset     bool
	OnProgress     ProgressCallback

	Collection   *models.QueryCollection
	Patterns     *models.PatternAnalysis
	Graph        *modelgraph.Graph
	Integration  *models.ModelIntegration
	Optimization *models.OptimizationReady

	Results map[models.Stage]StageResult
}

// NewRunState normalizes set-valued filter fields so equal requests build equal keys.
func NewRunState(filter models.CollectionFilter, patternFilter models.PatternFilter) *RunState {
	filter.IncludeUsers = sortedCopy(filter.IncludeUsers)
	filter.ExcludeUsers = sortedCopy(filter.ExcludeUsers)
	filter.IncludeDatabases = sortedCopy(filter.IncludeDatabases)
	filter.ExcludeDatabases = sortedCopy(filter.ExcludeDatabases)
	if len(filter.QueryKinds) > 0 {
		kinds := slices.Clone(filter.QueryKinds)
		slices.Sort(kinds)
		filter.QueryKinds = slices.Compact(kinds)
	}
	if filter.Focus == "" {
		filter.Focus = models.QueryFocusAll
	}

	patternFilter.PatternIDs = sortedCopy(patternFilter.PatternIDs)
	patternFilter.Models = sortedCopy(patternFilter.Models)
	patternFilter.Tables = sortedCopy(patternFilter.Tables)

	return &RunState{
		Filter:        filter,
		PatternFilter: patternFilter,
		Results:       make(map[models.Stage]StageResult),
	}
}

// Result returns how the given stage was obtained in this run.
func (s *RunState) Result(stage models.Stage) (StageResult, bool) {
	r, ok := s.Results[stage]
	return r, ok
}

func (s *RunState) upstream(stage models.Stage) (StageResult, error) {
	r, ok := s.Results[stage]
	if !ok {
		return StageResult{}, fmt.Errorf("%s output not available", stage)
	}
	return r, nil
}

// BaseNode provides common functionality for all stage nodes.
type BaseNode struct {
	stage  models.Stage
	cache  *cache.Cache
	logger *zap.Logger
}

// NewBaseNode creates a new base node with common dependencies.
func NewBaseNode(stage models.Stage, c *cache.Cache, logger *zap.Logger) *BaseNode {
	return &BaseNode{
		stage:  stage,
		cache:  c,
		logger: logger.Named(string(stage)),
	}
}

// Stage returns the stage the node computes.
func (b *BaseNode) Stage() models.Stage {
	return b.stage
}

// Logger returns the node's logger.
func (b *BaseNode) Logger() *zap.Logger {
	return b.logger
}

// ReportProgress forwards a progress message to the run's callback, if any.
func (b *BaseNode) ReportProgress(state *RunState, message string) {
	if state.OnProgress != nil {
		state.OnProgress(b.stage, message)
	}
}

// cachedStage serves the stage output stored under key, or computes and stores it.
// The output's content fingerprint is recorded so downstream keys change whenever
// it does.
func cachedStage[T any](ctx context.Context, n *BaseNode, state *RunState, key cache.Key, compute func(ctx context.Context) (T, error)) (T, error) {
	v, cached, err := cache.GetOrCompute(ctx, n.cache, key, compute)
	if err != nil {
		return v, err
	}

	fingerprint, err := cache.ContentFingerprint(v)
	if err != nil {
		return v, err
	}
	state.Results[n.stage] = StageResult{Key: key, Fingerprint: fingerprint, Cached: cached}

	n.logger.Debug("Stage output ready",
		zap.String("key", key.String()),
		zap.Bool("cached", cached))
	return v, nil
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
