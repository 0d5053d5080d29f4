// Package cli implements the querysight command line.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/logging"
)

// Exit codes returned by ExitCode.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInvalidArgs = 2
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	version    string

	// newApp builds the application; tests replace it to inject fixtures.
	newApp func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error)
}

// NewRootCommand builds the querysight command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version, newApp: NewApp}

	cmd := &cobra.Command{
		Use:   "querysight",
		Short: "Query-log analysis for dbt projects",
		Long: `querysight reads a warehouse query log, groups queries into patterns,
maps each pattern to the dbt models it touches and ranks optimization candidates.
Each analysis stage is cached, so reruns only recompute what changed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("querysight version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Config file (default: $QUERYSIGHT_CONFIG, then ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Override the configured log level: debug, info, warn or error")

	cmd.AddCommand(
		newAnalyzeCommand(opts),
		newCacheCommand(opts),
		newGraphCommand(opts),
		newServeCommand(opts),
		newMCPCommand(opts),
		newVersionCommand(opts),
	)
	return cmd
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return ExitInvalidArgs
	default:
		return ExitFailure
	}
}

// loadConfig reads the configuration and applies the --log-level override.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.version)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
		}
	}
	return cfg, nil
}

// openApp loads configuration, lets the command adjust it and wires the application.
func (o *rootOptions) openApp(ctx context.Context, adjust func(*config.Config)) (*App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
		}
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		return nil, err
	}
	app, err := o.newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return app, nil
}
