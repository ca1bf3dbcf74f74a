package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/usecase"
	"github.com/kirillkom/trialmatch/internal/infrastructure/export/xlsx"
)

type searchFlags struct {
	age    int
	page   int
	terms  []string
	json   bool
	export string
}

func newSearchCommand(services Services) *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search [condition]",
		Short: "Search recruiting trials for a condition",
		Long: `Fetches recruiting trials for a condition, keeps those whose age bounds
include --age, classifies their conditions into Genetic, RecentEvents and
OtherMajorDiagnosis terms and prints one page of results.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, services, flags, args[0])
		},
	}
	cmd.Flags().IntVarP(&flags.age, "age", "a", -1, "patient age in years (required)")
	cmd.Flags().IntVarP(&flags.page, "page", "p", 1, "1-based result page")
	cmd.Flags().StringSliceVarP(&flags.terms, "term", "t", nil, "master taxonomy term to filter by (repeatable)")
	cmd.Flags().BoolVar(&flags.json, "json", false, "output the search state as JSON")
	cmd.Flags().StringVar(&flags.export, "export", "", "write the filtered trials to an .xlsx file")
	_ = cmd.MarkFlagRequired("age")
	return cmd
}

func runSearch(cmd *cobra.Command, services Services, flags *searchFlags, condition string) error {
	if services.Searcher == nil {
		return errors.New("search service not configured")
	}
	if flags.age < 0 {
		return errors.New("--age must be zero or greater")
	}

	state, page, err := services.Searcher.Run(cmd.Context(), condition, flags.age, flags.terms, flags.page)
	if err != nil {
		return fmt.Errorf("search failed: %s", domain.PublicMessage(err, domain.GenericSearchFailure))
	}

	if flags.export != "" {
		filtered := usecase.FilterBySelectedTerms(state.Trials, state.SelectedTerms)
		if err := xlsx.SaveTrials(flags.export, filtered, state.Taxonomy); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		cmd.PrintErrf("Exported %d trials to %s\n", len(filtered), flags.export)
	}

	if flags.json {
		data, err := json.MarshalIndent(struct {
			State domain.SearchState `json:"state"`
			Page  domain.TrialPage   `json:"page"`
		}{State: state, Page: page}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	printSearch(cmd, state, page)
	return nil
}

func printSearch(cmd *cobra.Command, state domain.SearchState, page domain.TrialPage) {
	if state.Progress != nil {
		p := state.Progress
		cmd.Printf("Fetched %d trials, %d match the age, %d distinct conditions, %d master terms.\n",
			p.RawTrials, p.AgeFilteredTrials, p.UniqueConditions, p.MasterTerms)
	}
	if state.Taxonomy != nil {
		for _, bucket := range domain.TaxonomyBuckets {
			terms := state.Taxonomy.Summary.Bucket(bucket)
			if len(terms) == 0 {
				continue
			}
			cmd.Printf("  %s: %s\n", bucket, strings.Join(terms, ", "))
		}
	}
	if page.TotalFiltered == 0 {
		cmd.Println("No results found.")
		return
	}

	cmd.Printf("Results (page %d of %d, %d trials):\n", page.Page, page.TotalPages, page.TotalFiltered)
	cmd.Println()
	offset := (page.Page - 1) * page.PageSize
	for i, trial := range page.Items {
		cmd.Printf("  [%d] %s %s\n", offset+i+1, trial.NCTID, trial.BriefTitle)
		cmd.Printf("      Ages %d-%d, %s\n", trial.EligibilityMinimumAge, trial.EligibilityMaximumAge, trial.OverallStatus)
		if len(trial.MasterDiagnoses) > 0 {
			cmd.Printf("      %s\n", strings.Join(trial.MasterDiagnoses, ", "))
		}
	}
}
