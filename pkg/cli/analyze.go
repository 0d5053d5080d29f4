package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/models"
	"github.com/ekaya-inc/querysight/pkg/services"
)

type analyzeOptions struct {
	params    services.RunParams
	batchSize int
	cache     bool
	noCache   bool
	project   string
	page      int
	pageSize  int
	ascending bool
	jsonOut   bool
}

// analyzeOutput is what `analyze --json` prints.
type analyzeOutput struct {
	Report       *models.RunReport         `json:"report"`
	Summary      services.ViewSummary      `json:"summary"`
	Patterns     *services.Page            `json:"patterns,omitempty"`
	Optimization *models.OptimizationReady `json:"optimization,omitempty"`
}

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the analysis pipeline over the query log",
		Long: `Run the analysis stages up to --level:

  1 collection          fetch and filter query log records
  2 pattern_analysis    fingerprint records into query patterns
  3 model_integration   map patterns to dbt models and report coverage
  4 optimization_ready  rank candidates and request suggestions

Stages whose inputs have not changed are served from the cache.`,
		Example: `  querysight analyze --days 3 --focus slow
  querysight analyze --level 3 --select-models orders --json
  querysight analyze --no-cache --query-kinds SELECT,INSERT`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.params.Days, "days", 0, "Days of query history to analyze (default: pipeline.days)")
	f.StringVar(&opts.params.Focus, "focus", "all", "Collection focus: all, slow or frequent")
	f.StringVar(&opts.params.Level, "level", "", "Stop after this stage, by number (1-4) or name (default: optimization_ready)")
	f.Int64Var(&opts.params.MinFrequency, "min-frequency", 0, "Minimum executions for a pattern to be kept (default: pipeline.min_frequency)")
	f.Float64Var(&opts.params.MinDurationMs, "min-duration-ms", 0, "Ignore records faster than this")
	f.IntVar(&opts.params.SampleSize, "sample-size", 0, "Analyze at most this many records (0 = all)")
	f.StringSliceVar(&opts.params.IncludeUsers, "include-users", nil, "Only analyze queries from these users")
	f.StringSliceVar(&opts.params.ExcludeUsers, "exclude-users", nil, "Skip queries from these users")
	f.StringSliceVar(&opts.params.QueryKinds, "query-kinds", nil, "Only analyze these query kinds (SELECT, INSERT, ...)")
	f.StringSliceVar(&opts.params.PatternIDs, "select-patterns", nil, "Only show these pattern ids")
	f.StringSliceVar(&opts.params.Models, "select-models", nil, "Only show patterns mapped to these models")
	f.StringSliceVar(&opts.params.Tables, "select-tables", nil, "Only show patterns touching these tables")
	f.StringVar(&opts.params.SortBy, "sort-by", "frequency", "Sort patterns by frequency, duration or memory")
	f.IntVar(&opts.params.CandidateLimit, "candidate-limit", 0, "Optimization candidates to rank (default: pipeline.candidate_limit)")
	f.BoolVar(&opts.params.ForceReset, "force-reset", false, "Recompute every stage and overwrite its cache entry")
	f.IntVar(&opts.batchSize, "batch-size", 0, "Records per batch (default: pipeline.batch_size)")
	f.BoolVar(&opts.cache, "cache", true, "Use the stage cache")
	f.BoolVar(&opts.noCache, "no-cache", false, "Disable the stage cache for this run")
	f.StringVar(&opts.project, "project", "", "dbt project directory (default: project.path)")
	f.IntVar(&opts.page, "page", 1, "Page of patterns to show")
	f.IntVar(&opts.pageSize, "page-size", services.DefaultPageSize, "Patterns per page")
	f.BoolVar(&opts.ascending, "ascending", false, "Sort ascending instead of descending")
	f.BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
	cmd.MarkFlagsMutuallyExclusive("cache", "no-cache")

	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions) error {
	if opts.batchSize < 0 {
		return fmt.Errorf("%w: --batch-size must not be negative", apperrors.ErrInvalidArgument)
	}
	if opts.page < 1 || opts.pageSize < 1 {
		return fmt.Errorf("%w: --page and --page-size must be at least 1", apperrors.ErrInvalidArgument)
	}

	ctx := cmd.Context()
	app, err := root.openApp(ctx, func(cfg *config.Config) {
		if opts.batchSize > 0 {
			cfg.Pipeline.BatchSize = opts.batchSize
		}
		if opts.project != "" {
			cfg.Project.Path = opts.project
		}
		if cmd.Flags().Changed("cache") {
			cfg.Cache.Enabled = opts.cache
		}
		if opts.noCache {
			cfg.Cache.Enabled = false
		}
	})
	if err != nil {
		return err
	}
	defer app.Close()

	params := opts.params
	if params.Days == 0 {
		params.Days = app.Config.Pipeline.Days
	}
	req, err := params.RunRequest(time.Now())
	if err != nil {
		return err
	}
	req.OnProgress = func(stage models.Stage, message string) {
		app.Logger.Info(message, zap.String("stage", string(stage)))
	}

	result, runErr := app.Pipeline.Run(ctx, req)
	if result == nil {
		return runErr
	}

	out := buildAnalyzeOutput(app.View, result, req, opts)
	w := cmd.OutOrStdout()
	if opts.jsonOut {
		if err := writeJSON(w, out); err != nil {
			return err
		}
	} else {
		renderAnalyze(w, out)
	}
	return runErr
}

func buildAnalyzeOutput(view services.PatternView, result *services.RunResult, req *services.RunRequest, opts *analyzeOptions) *analyzeOutput {
	out := &analyzeOutput{
		Report:       result.Report,
		Summary:      view.Summary(result),
		Optimization: result.Optimization,
	}
	if result.Patterns != nil {
		page := view.Query(result, services.ViewQuery{
			Filter:    req.PatternFilter,
			SortBy:    req.SortBy,
			Ascending: opts.ascending,
			Page:      opts.page,
			PageSize:  opts.pageSize,
		})
		out.Patterns = &page
	}
	return out
}

func renderAnalyze(w io.Writer, out *analyzeOutput) {
	renderRunReport(w, out.Report)

	s := out.Summary
	if out.Patterns == nil {
		return
	}

	heading(w, "Summary")
	fmt.Fprintf(w, "Patterns: %d   Executions: %d   Unparseable: %d\n",
		s.TotalPatterns, s.TotalExecutions, s.UnparseableRecords)
	fmt.Fprintf(w, "Duration: %d slow (>1s), %d medium (100ms-1s), %d fast\n",
		s.Durations.Slow, s.Durations.Medium, s.Durations.Fast)
	if s.Coverage != nil {
		fmt.Fprintf(w, "Model coverage: %.1f%% (%d of %d patterns mapped)\n",
			s.Coverage.Coverage*100, s.Coverage.MappedPatterns, s.Coverage.TotalPatterns)
		if len(s.Coverage.UncoveredTables) > 0 {
			fmt.Fprintf(w, "Uncovered tables: %s\n", joinOrDash(s.Coverage.UncoveredTables))
		}
		if len(s.Coverage.UnusedModels) > 0 {
			fmt.Fprintf(w, "Unused models: %s\n", joinOrDash(s.Coverage.UnusedModels))
		}
	}

	p := out.Patterns
	heading(w, fmt.Sprintf("Patterns (page %d of %d, %d total)", p.Page, max(p.TotalPages, 1), p.TotalRows))
	if len(p.Rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no patterns match"))
	} else {
		renderPatternRows(w, p.Rows)
	}

	if out.Optimization == nil {
		return
	}
	heading(w, "Optimization candidates")
	renderPatternRows(w, out.Optimization.Candidates)
	if out.Optimization.SuggestionsSkipped != "" {
		fmt.Fprintf(w, "Suggestions skipped: %s\n", out.Optimization.SuggestionsSkipped)
	}
	for i, sg := range out.Optimization.Suggestions {
		fmt.Fprintf(w, "\n%d. [%s] %s\n", i+1, sg.Impact, headingStyle.Render(sg.Title))
		if sg.Description != "" {
			fmt.Fprintf(w, "   %s\n", sg.Description)
		}
		if len(sg.Models) > 0 {
			fmt.Fprintf(w, "   models: %s\n", joinOrDash(sg.Models))
		}
		if sg.SuggestedSQL != "" {
			fmt.Fprintf(w, "   %s\n", dimStyle.Render(sg.SuggestedSQL))
		}
	}
}
