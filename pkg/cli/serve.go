package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/config"
	"github.com/ekaya-inc/querysight/pkg/handlers"
	"github.com/ekaya-inc/querysight/pkg/middleware"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		bindAddr      string
		port          string
		sweepInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /health, /ping, /metrics and the MCP endpoint over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sweepInterval < 0 {
				return fmt.Errorf("%w: --sweep-interval must not be negative", apperrors.ErrInvalidArgument)
			}
			app, err := root.openApp(cmd.Context(), func(cfg *config.Config) {
				if bindAddr != "" {
					cfg.Server.BindAddr = bindAddr
				}
				if port != "" {
					cfg.Server.Port = port
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()

			return serve(cmd.Context(), app, sweepInterval)
		},
	}
	cmd.Flags().StringVar(&bindAddr, "bind-addr", "", "Listen address (default: server.bind_addr)")
	cmd.Flags().StringVar(&port, "port", "", "Listen port (default: server.port)")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 15*time.Minute, "Remove expired cache entries this often (0 disables)")
	return cmd
}

// newServeMux registers every HTTP route of `serve`.
func newServeMux(app *App) http.Handler {
	mux := http.NewServeMux()
	handlers.NewHealthHandler(app.Config, app.Cache, app.Logger).RegisterRoutes(mux)
	handlers.RegisterMetricsRoute(mux, app.Metrics)
	handlers.NewMCPHandler(app.NewMCPServer(), app.Logger).RegisterRoutes(mux)

	return middleware.Chain(mux,
		middleware.Recoverer(app.Logger),
		middleware.RequestLogger(app.Logger),
	)
}

func serve(ctx context.Context, app *App, sweepInterval time.Duration) error {
	addr := net.JoinHostPort(app.Config.Server.BindAddr, app.Config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           newServeMux(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if sweepInterval > 0 {
		go sweepLoop(ctx, app, sweepInterval)
	}

	serverErr := make(chan error, 1)
	go func() {
		app.Logger.Info("Starting querysight server",
			zap.String("addr", addr),
			zap.String("version", app.Config.Version),
			zap.String("cache_backend", app.Cache.Backend()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.Logger.Info("Shutting down querysight server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func sweepLoop(ctx context.Context, app *App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.Cache.Sweep(ctx); err != nil && ctx.Err() == nil {
				app.Logger.Warn("Cache sweep failed", zap.Error(err))
			}
		}
	}
}
