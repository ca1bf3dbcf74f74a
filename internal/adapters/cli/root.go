package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trialmatch/internal/core/ports"
)

// Services are the ports the commands drive. Nil members disable the
// commands that need them.
type Services struct {
	Searcher ports.TrialSearcher
	Trials   ports.TrialReader
	Dialer   ports.ChatDialer
	// UseInitFrame sends the full trial context instead of the compact
	// start frame when a chat opens.
	UseInitFrame bool
	MCP          MCPServer
}

type MCPServer interface {
	ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error
}

func NewRootCommand(services Services) *cobra.Command {
	root := &cobra.Command{
		Use:   "trialctl",
		Short: "Search clinical trials and screen eligibility",
		Long: `trialctl searches the ClinicalTrials.gov registry by condition and age,
groups the results by an AI-derived medical taxonomy and opens eligibility
screening chats for a single trial.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newSearchCommand(services),
		newTrialCommand(services),
		newChatCommand(services),
		newMCPCommand(services),
	)
	return root
}
