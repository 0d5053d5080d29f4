package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMCPCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Long: `Serve the querysight MCP tools over stdin/stdout so an MCP client can launch
querysight as a subprocess. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			app.Logger.Info("Serving MCP over stdio", zap.String("version", app.Config.Version))
			return app.NewMCPServer().ServeStdio(cmd.Context())
		},
	}
}
