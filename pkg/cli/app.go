package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/llm"
	"github.com/ekaya-inc/querysight/pkg/mcp"
	"github.com/ekaya-inc/querysight/pkg/mcp/tools"
	"github.com/ekaya-inc/querysight/pkg/metrics"
	"github.com/ekaya-inc/querysight/pkg/services"
	"github.com/ekaya-inc/querysight/pkg/workerpool"

	// Log source adapters register themselves with the logsource registry.
	_ "github.com/ekaya-inc/querysight/pkg/adapters/logsource/file"
	_ "github.com/ekaya-inc/querysight/pkg/adapters/logsource/mssql"
	_ "github.com/ekaya-inc/querysight/pkg/adapters/logsource/postgres"
)

// App holds the long-lived components shared by every command.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Cache    *cache.Cache
	Pipeline services.Pipeline
	View     services.PatternView
}

// NewApp wires the cache, stage services and pipeline from cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	m := metrics.New()

	store, err := cache.OpenStore(ctx, &cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s cache store: %w", cfg.Cache.Backend, err)
	}
	c := cache.New(store, cache.Options{
		Enabled: cfg.Cache.Enabled,
		Backend: cfg.Cache.Backend,
		TTL:     cfg.Cache.TTL.ByCategory(),
		Metrics: m,
	}, logger)

	suggester, err := llm.NewSuggester(&cfg.LLM, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	pool := workerpool.New(workerpool.Config{MaxConcurrent: cfg.Pipeline.Workers}, logger)
	pipeline := services.NewPipeline(services.PipelineDeps{
		Collection: services.NewCollectionService(
			cfg.Source.Type,
			services.NewRegistryOpener(&cfg.Source, logger),
			cfg.Pipeline.BatchSize,
			cfg.Pipeline.SourceTimeout,
			logger,
		),
		Patterns:     services.NewPatternAnalysisService(pool, cfg.Pipeline.BatchSize, m, logger),
		Mapping:      services.NewModelMappingService(pool, cfg.Project.InferPlurals, m, logger),
		Graphs:       services.NewProjectGraphLoader(cfg.Project.Path),
		Optimization: services.NewOptimizationService(suggester, cfg.Pipeline.SuggestionTimeout, logger),
		Cache:        c,
		Metrics:      m,
	}, services.PipelineDefaults{
		MinFrequency:   int64(cfg.Pipeline.MinFrequency),
		CandidateLimit: cfg.Pipeline.CandidateLimit,
	}, logger)

	logger.Debug("Application wired",
		zap.String("source", cfg.Source.Type),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int("workers", pool.Size()))

	return &App{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Cache:    c,
		Pipeline: pipeline,
		View:     services.NewPatternView(logger),
	}, nil
}

// NewMCPServer builds the MCP server with every querysight tool registered and
// tool calls audited.
func (a *App) NewMCPServer() *mcp.Server {
	audit := mcp.NewAuditLogger(a.Metrics, a.Logger)
	s := mcp.NewServer("querysight", a.Config.Version, audit.Hooks(), a.Logger)

	tools.RegisterHealthTool(s.MCP(), a.Config.Version, a.Cache)
	tools.RegisterAnalysisTools(s.MCP(), &tools.AnalysisToolDeps{
		Pipeline:    a.Pipeline,
		View:        a.View,
		DefaultDays: a.Config.Pipeline.Days,
		Logger:      a.Logger,
	})
	tools.RegisterCacheTools(s.MCP(), &tools.CacheToolDeps{
		Cache:  a.Cache,
		Logger: a.Logger,
	})
	return s
}

// Close releases the cache store and flushes the logger.
func (a *App) Close() error {
	err := a.Cache.Close()
	_ = a.Logger.Sync()
	return err
}
