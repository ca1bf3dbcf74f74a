package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

func newTrialCommand(services Services) *cobra.Command {
	return &cobra.Command{
		Use:   "trial [nct-id]",
		Short: "Show one trial as normalized JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if services.Trials == nil {
				return errors.New("registry not configured")
			}
			trial, err := services.Trials.FetchTrial(cmd.Context(), args[0])
			if err != nil {
				if domain.IsKind(err, domain.ErrTrialNotFound) {
					return fmt.Errorf("trial %s not found", args[0])
				}
				return fmt.Errorf("fetch trial: %s", domain.PublicMessage(err, "request failed"))
			}
			data, err := json.MarshalIndent(trial, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal trial: %w", err)
			}
			cmd.Println(string(data))
			return nil
		},
	}
}
