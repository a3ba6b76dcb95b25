package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/cli"
	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
)

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results <analysis-id>",
		Short: "Show the latest stored results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			summaryOnly, _ := cmd.Flags().GetBool("summary-only")
			rawState, _ := cmd.Flags().GetString("state")

			state := ""
			if rawState != "" {
				normalized, ok := model.NormalizeState(rawState)
				if !ok {
					return common.NewUserError(fmt.Sprintf("unknown state code %q", rawState), nil)
				}
				state = normalized
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			summary, err := store.GetSummary(ctx, args[0])
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError(fmt.Sprintf("no results for %q; run 'nexus calculate %s' first", args[0], args[0]), err)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if state == "" {
				if err := cli.WriteSummary(out, summary); err != nil {
					return err
				}
			}
			if summaryOnly {
				return nil
			}

			results, err := store.GetResults(ctx, args[0])
			if err != nil {
				return err
			}
			if state != "" {
				filtered := results[:0]
				for _, r := range results {
					if r.State == state {
						filtered = append(filtered, r)
					}
				}
				results = filtered
			}
			return cli.WriteResults(out, results)
		},
	}

	cmd.Flags().Bool("summary-only", false, "Print only the summary")
	cmd.Flags().String("state", "", "Show only one state's yearly rows")

	return cmd
}
