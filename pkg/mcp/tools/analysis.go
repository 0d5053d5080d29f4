package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/logging"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/services"
)

// AnalysisToolDeps contains dependencies for the analysis tools.
type AnalysisToolDeps struct {
	Pipeline    services.Pipeline
	View        services.PatternView
	DefaultDays int
	Logger      *zap.Logger

	// Now overrides the clock used for the collection window.
	Now func() time.Time
}

func (d *AnalysisToolDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// runOptions are the arguments shared by every tool that runs the pipeline.
func runOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("days", mcp.Description("Collection window in days, ending at the next whole hour (default: configured days)")),
		mcp.WithString("focus", mcp.Description("Which executions to prioritize: 'all', 'slow' or 'frequent' (default: all)")),
		mcp.WithNumber("min_frequency", mcp.Description("Drop patterns executed fewer times than this (default: configured minimum)")),
		mcp.WithNumber("min_duration_ms", mcp.Description("Ignore executions faster than this many milliseconds")),
		mcp.WithNumber("sample_size", mcp.Description("Keep at most this many records (0 keeps all)")),
		mcp.WithArray("include_users", mcp.Description("Only keep queries run by these users")),
		mcp.WithArray("exclude_users", mcp.Description("Drop queries run by these users")),
		mcp.WithArray("query_kinds", mcp.Description("Only keep these statement kinds, e.g. SELECT, INSERT")),
		mcp.WithArray("patterns", mcp.Description("Restrict output to these pattern ids")),
		mcp.WithArray("models", mcp.Description("Restrict output to patterns mapped to these models")),
		mcp.WithArray("tables", mcp.Description("Restrict output to patterns reading these tables")),
		mcp.WithString("sort_by", mcp.Description("Ordering: 'frequency', 'duration' or 'memory' (default: frequency)")),
		mcp.WithBoolean("force_reset", mcp.Description("Invalidate the cached collection and everything derived from it before running")),
	}
}

// parseRunParams reads the shared run arguments.
func parseRunParams(req mcp.CallToolRequest, defaultDays int) (*services.RunParams, error) {
	params := &services.RunParams{
		Days:       defaultDays,
		Focus:      getOptionalString(req, "focus"),
		Level:      getOptionalString(req, "level"),
		SortBy:     getOptionalString(req, "sort_by"),
		ForceReset: getOptionalBool(req, "force_reset", false),
	}
	if v, ok := getOptionalFloat(req, "min_duration_ms"); ok {
		params.MinDurationMs = v
	}

	ints := []struct {
		key string
		set func(int64)
	}{
		{"days", func(v int64) { params.Days = int(v) }},
		{"min_frequency", func(v int64) { params.MinFrequency = v }},
		{"sample_size", func(v int64) { params.SampleSize = int(v) }},
		{"candidate_limit", func(v int64) { params.CandidateLimit = int(v) }},
	}
	for _, i := range ints {
		v, ok, err := getOptionalInt(req, i.key)
		if err != nil {
			return nil, err
		}
		if ok {
			i.set(v)
		}
	}

	lists := []struct {
		key string
		dst *[]string
	}{
		{"include_users", &params.IncludeUsers},
		{"exclude_users", &params.ExcludeUsers},
		{"query_kinds", &params.QueryKinds},
		{"patterns", &params.PatternIDs},
		{"models", &params.Models},
		{"tables", &params.Tables},
	}
	for _, l := range lists {
		v, err := getStringSlice(req, l.key)
		if err != nil {
			return nil, err
		}
		*l.dst = v
	}
	return params, nil
}

// toolRun is a completed pipeline run and the request that produced it.
type toolRun struct {
	req    *services.RunRequest
	result *services.RunResult
}

// run executes the pipeline for a tool call. Tools that accept a level start
// from defaultLevel; the others always run to it. A non-nil *mcp.CallToolResult
// is an error result to return to the client as is.
func run(ctx context.Context, deps *AnalysisToolDeps, req mcp.CallToolRequest, defaultLevel models.Stage, levelArg bool) (*toolRun, *mcp.CallToolResult, error) {
	params, err := parseRunParams(req, deps.DefaultDays)
	if err != nil {
		return nil, NewErrorResult(CodeInvalidArgument, err.Error()), nil
	}
	if !levelArg {
		params.Level = ""
	}
	runReq, err := params.RunRequest(deps.now())
	if err != nil {
		return nil, NewErrorResult(CodeInvalidArgument, err.Error()), nil
	}
	if runReq.Level == "" {
		runReq.Level = defaultLevel
	}

	result, err := deps.Pipeline.Run(ctx, runReq)
	if err != nil {
		code := ErrorCode(err)
		if code == "" {
			return nil, nil, fmt.Errorf("analysis run failed: %w", err)
		}
		deps.Logger.Info("Analysis run failed with actionable error",
			zap.String("code", code),
			zap.String("error", logging.SanitizeError(err)))
		var report *models.RunReport
		if result != nil {
			report = result.Report
		}
		return nil, NewErrorResultWithDetails(code, logging.SanitizeError(err), map[string]any{"report": report}), nil
	}
	return &toolRun{req: runReq, result: result}, nil, nil
}

type runAnalysisResponse struct {
	Report       *models.RunReport         `json:"report"`
	Summary      services.ViewSummary      `json:"summary"`
	Optimization *models.OptimizationReady `json:"optimization,omitempty"`
}

type coverageResponse struct {
	Report   *models.RunReport       `json:"report"`
	Coverage *models.CoverageSummary `json:"coverage"`
}

// RegisterAnalysisTools registers run_analysis, list_patterns and coverage_summary.
func RegisterAnalysisTools(s *server.MCPServer, deps *AnalysisToolDeps) {
	registerRunAnalysisTool(s, deps)
	registerListPatternsTool(s, deps)
	registerCoverageSummaryTool(s, deps)
}

func registerRunAnalysisTool(s *server.MCPServer, deps *AnalysisToolDeps) {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Run the query-log analysis pipeline up to the requested level and return the run report, " +
				"a pattern summary and, at the optimization level, ranked candidates with suggestions. " +
				"Levels: 'collection' (1), 'pattern_analysis' (2), 'model_integration' (3), 'optimization_ready' (4). " +
				"Stages whose inputs are unchanged are served from cache; the report says which.",
		),
		mcp.WithString("level", mcp.Description("Analysis level to stop at, by name or number 1-4 (default: optimization_ready)")),
		mcp.WithNumber("candidate_limit", mcp.Description("Maximum candidate patterns sent for suggestions")),
	}
	opts = append(opts, runOptions()...)
	opts = append(opts,
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(mcp.NewTool("run_analysis", opts...), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		r, errResult, err := run(ctx, deps, req, models.StageOptimizationReady, true)
		if errResult != nil || err != nil {
			return errResult, err
		}
		return jsonResult(runAnalysisResponse{
			Report:       r.result.Report,
			Summary:      deps.View.Summary(r.result),
			Optimization: r.result.Optimization,
		})
	})
}

func registerListPatternsTool(s *server.MCPServer, deps *AnalysisToolDeps) {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"List query patterns with their statistics and model mappings, filtered, sorted and paginated. " +
				"Runs the pipeline through model integration (served from cache when unchanged).",
		),
		mcp.WithNumber("page", mcp.Description("1-based page number (default: 1)")),
		mcp.WithNumber("page_size", mcp.Description(fmt.Sprintf("Patterns per page (default: %d)", services.DefaultPageSize))),
		mcp.WithBoolean("ascending", mcp.Description("Sort ascending instead of descending")),
	}
	opts = append(opts, runOptions()...)
	opts = append(opts,
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(mcp.NewTool("list_patterns", opts...), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		page, _, err := getOptionalInt(req, "page")
		if err == nil && (page < 0 || page > maxPage) {
			err = fmt.Errorf("page must be between 0 and %d: %w", maxPage, apperrors.ErrInvalidArgument)
		}
		if err != nil {
			return NewErrorResult(CodeInvalidArgument, err.Error()), nil
		}
		pageSize, _, err := getOptionalInt(req, "page_size")
		if err == nil && (pageSize < 0 || pageSize > services.MaxPageSize) {
			err = fmt.Errorf("page_size must be between 0 and %d: %w", services.MaxPageSize, apperrors.ErrInvalidArgument)
		}
		if err != nil {
			return NewErrorResult(CodeInvalidArgument, err.Error()), nil
		}

		r, errResult, err := run(ctx, deps, req, models.StageModelIntegration, false)
		if errResult != nil || err != nil {
			return errResult, err
		}
		return jsonResult(deps.View.Query(r.result, services.ViewQuery{
			Filter:    r.req.PatternFilter,
			SortBy:    r.req.SortBy,
			Ascending: getOptionalBool(req, "ascending", false),
			Page:      int(page),
			PageSize:  int(pageSize),
		}))
	})
}

// maxPage bounds list_patterns paging; no run produces more pattern pages.
const maxPage = 1 << 31

func registerCoverageSummaryTool(s *server.MCPServer, deps *AnalysisToolDeps) {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Summarize how well observed query patterns are covered by the project's models: " +
				"mapped and unmapped pattern counts, unused models, uncovered tables, and critical or bottleneck models.",
		),
	}
	opts = append(opts, runOptions()...)
	opts = append(opts,
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(mcp.NewTool("coverage_summary", opts...), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		r, errResult, err := run(ctx, deps, req, models.StageModelIntegration, false)
		if errResult != nil || err != nil {
			return errResult, err
		}
		var coverage *models.CoverageSummary
		if r.result.Integration != nil {
			coverage = &r.result.Integration.Coverage
		}
		return jsonResult(coverageResponse{Report: r.result.Report, Coverage: coverage})
	})
}
