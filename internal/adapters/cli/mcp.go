package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func newMCPCommand(services Services) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve trial search tools over MCP stdio",
		Long: `Starts a Model Context Protocol server on stdin/stdout exposing the
search_trials and get_trial tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if services.MCP == nil {
				return errors.New("mcp server not configured")
			}
			return services.MCP.ServeStdio(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
