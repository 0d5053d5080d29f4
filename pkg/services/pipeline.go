package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/metrics"
	"github.com/ekaya-inc/querysight/pkg/modelgraph"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/services/dag"
)

// RunRequest selects how far a run goes and the parameters of every stage.
type RunRequest struct {
	Level          models.Stage
	Filter         models.CollectionFilter
	MinFrequency   int64
	PatternFilter  models.PatternFilter
	SortBy         models.SortField
	CandidateLimit int
	ForceReset     bool
	OnProgress     dag.ProgressCallback
}

// RunResult holds the report and every stage output up to the requested level.
// Outputs of stages that did not run are nil.
type RunResult struct {
	Report       *models.RunReport         `json:"report"`
	Collection   *models.QueryCollection   `json:"-"`
	Patterns     *models.PatternAnalysis   `json:"patterns,omitempty"`
	Integration  *models.ModelIntegration  `json:"integration,omitempty"`
	Optimization *models.OptimizationReady `json:"optimization,omitempty"`
	Graph        *modelgraph.Graph         `json:"-"`
}

// Pipeline runs the analysis stages in order, serving each from cache when its
// inputs are unchanged.
type Pipeline interface {
	// Run executes every stage up to req.Level. On failure the partial result is
	// returned with the error; outputs cached by earlier stages remain valid.
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)

	// Cache exposes the stage cache for the control surfaces.
	Cache() *cache.Cache
}

// PipelineDeps are the stage services a pipeline drives.
type PipelineDeps struct {
	Collection   CollectionService
	Patterns     PatternAnalysisService
	Mapping      ModelMappingService
	Graphs       GraphLoader
	Optimization OptimizationService
	Cache        *cache.Cache
	Metrics      *metrics.Metrics
}

// PipelineDefaults fill request fields left at zero.
type PipelineDefaults struct {
	MinFrequency   int64
	CandidateLimit int
}

type pipeline struct {
	nodes    []dag.NodeExecutor
	cache    *cache.Cache
	metrics  *metrics.Metrics
	defaults PipelineDefaults
	now      func() time.Time
	logger   *zap.Logger
}

func NewPipeline(deps PipelineDeps, defaults PipelineDefaults, logger *zap.Logger) Pipeline {
	return &pipeline{
		nodes: []dag.NodeExecutor{
			dag.NewCollectionNode(deps.Cache, deps.Collection, logger),
			dag.NewPatternAnalysisNode(deps.Cache, deps.Patterns, logger),
			dag.NewModelIntegrationNode(deps.Cache, NewModelIntegrationAdapter(deps.Mapping, deps.Graphs), logger),
			dag.NewOptimizationNode(deps.Cache, deps.Optimization, logger),
		},
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		defaults: defaults,
		now:      time.Now,
		logger:   logger.Named("pipeline"),
	}
}

var _ Pipeline = (*pipeline)(nil)

func (p *pipeline) Cache() *cache.Cache {
	return p.cache
}

func (p *pipeline) newState(req *RunRequest) *dag.RunState {
	state := dag.NewRunState(req.Filter, req.PatternFilter)
	state.MinFrequency = req.MinFrequency
	if state.MinFrequency <= 0 {
		state.MinFrequency = p.defaults.MinFrequency
	}
	state.CandidateLimit = req.CandidateLimit
	if state.CandidateLimit <= 0 {
		state.CandidateLimit = p.defaults.CandidateLimit
	}
	state.SortBy = req.SortBy
	state.ForceReset = req.ForceReset
	state.OnProgress = req.OnProgress
	return state
}

func (p *pipeline) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	level := req.Level
	if level == "" {
		level = models.StageOptimizationReady
	}
	if level.Level() == 0 {
		return nil, fmt.Errorf("unknown analysis level %q", level)
	}

	state := p.newState(req)
	report := &models.RunReport{
		RunID:     uuid.New(),
		Level:     level,
		Stages:    []models.StageReport{},
		StartedAt: p.now().UTC(),
	}
	result := &RunResult{Report: report}

	p.logger.Info("Starting analysis run",
		zap.String("run_id", report.RunID.String()),
		zap.String("level", string(level)),
		zap.Bool("force_reset", req.ForceReset))

	var runErr error
	for _, node := range p.nodes {
		if node.Stage().Level() > level.Level() {
			break
		}
		if err := ctx.Err(); err != nil {
			p.logger.Info("Analysis run cancelled", zap.String("run_id", report.RunID.String()))
			runErr = err
			break
		}

		start := p.now()
		err := p.executeNode(ctx, node, state)
		stageReport := models.StageReport{Stage: node.Stage(), Duration: p.now().Sub(start)}
		if r, ok := state.Result(node.Stage()); ok {
			stageReport.CacheKey = r.Key.String()
		}

		if err != nil {
			stageReport.Outcome = models.StageOutcomeFailed
			stageReport.Error = err.Error()
			report.Stages = append(report.Stages, stageReport)
			p.metrics.StageDuration(string(node.Stage()), string(models.StageOutcomeFailed), stageReport.Duration)
			p.logger.Error("Stage failed",
				zap.String("run_id", report.RunID.String()),
				zap.String("stage", string(node.Stage())),
				zap.Error(err))
			runErr = fmt.Errorf("%s stage: %w", node.Stage(), err)
			break
		}

		stageReport.Outcome = models.StageOutcomeComputed
		if r, _ := state.Result(node.Stage()); r.Cached {
			stageReport.Outcome = models.StageOutcomeCached
		}
		report.Stages = append(report.Stages, stageReport)
		p.metrics.StageDuration(string(node.Stage()), string(stageReport.Outcome), stageReport.Duration)
		p.logger.Info("Stage complete",
			zap.String("stage", string(node.Stage())),
			zap.String("outcome", string(stageReport.Outcome)),
			zap.Duration("duration", stageReport.Duration))
	}

	result.Collection = state.Collection
	result.Patterns = state.Patterns
	result.Graph = state.Graph
	result.Integration = state.Integration
	result.Optimization = state.Optimization
	summarize(report, state)
	report.FinishedAt = p.now().UTC()

	if runErr != nil {
		return result, runErr
	}
	p.logger.Info("Analysis run complete",
		zap.String("run_id", report.RunID.String()),
		zap.Int64("records", report.RecordsProcessed),
		zap.Int64("skipped", report.RecordsSkipped),
		zap.Int("cached_stages", len(report.Cached())))
	return result, nil
}

// executeNode runs one node, turning a panic into a stage error.
func (p *pipeline) executeNode(ctx context.Context, node dag.NodeExecutor, state *dag.RunState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Stage panicked",
				zap.String("stage", string(node.Stage())),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("panic during %s: %v", node.Stage(), r)
		}
	}()
	return node.Execute(ctx, state)
}

func summarize(report *models.RunReport, state *dag.RunState) {
	if state.Collection != nil {
		report.RecordsProcessed = state.Collection.RecordsFetched
		for reason, n := range state.Collection.SkipReasons {
			report.AddSkipped(reason, n)
		}
	}
	if state.Patterns != nil {
		for reason, n := range state.Patterns.SkipReasons {
			report.AddSkipped(reason, n)
		}
	}
}
