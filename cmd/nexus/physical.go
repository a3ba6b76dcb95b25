package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/cli"
	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
)

func physicalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "physical",
		Short: "Manage physical presence facts",
		Long: `Record offices, warehouses, employees and other physical presence that
creates nexus in a state regardless of sales volume.`,
		Example: `  nexus physical add acme --state TX --established 2022-03-01 --description "Austin warehouse"
  nexus physical list acme`,
	}

	cmd.AddCommand(addPhysicalCmd())
	cmd.AddCommand(listPhysicalCmd())
	cmd.AddCommand(deletePhysicalCmd())

	return cmd
}

func addPhysicalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <analysis-id>",
		Short: "Record a physical presence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rawState, _ := cmd.Flags().GetString("state")
			description, _ := cmd.Flags().GetString("description")

			state, ok := model.NormalizeState(rawState)
			if !ok {
				return common.NewUserError(fmt.Sprintf("unknown state code %q", rawState), nil)
			}
			established, err := dateFlag(cmd, "established")
			if err != nil {
				return err
			}
			if established.IsZero() {
				return common.NewUserError("--established is required", nil)
			}
			ended, err := dateFlag(cmd, "ended")
			if err != nil {
				return err
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

			fact := &model.PhysicalNexusFact{
				AnalysisID:      args[0],
				State:           state,
				EstablishedDate: established,
				Description:     description,
			}
			if !ended.IsZero() {
				fact.EndedDate = &ended
			}
			if err := store.SavePhysicalFact(ctx, fact); err != nil {
				return fmt.Errorf("failed to save physical fact: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Recorded physical presence #%d in %s from %s", fact.ID, state, established.Format(dateLayout))))
			return err
		},
	}

	cmd.Flags().String("state", "", "Two-letter state code")
	cmd.Flags().String("established", "", "Date the presence began, YYYY-MM-DD")
	cmd.Flags().String("ended", "", "Date the presence ended, YYYY-MM-DD")
	cmd.Flags().String("description", "", "What the presence is")
	_ = cmd.MarkFlagRequired("state")
	_ = cmd.MarkFlagRequired("established")

	return cmd
}

func listPhysicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <analysis-id>",
		Short: "List physical presence facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			analysis, err := store.GetAnalysis(ctx, args[0])
			if err != nil {
				if errors.Is(err, common.ErrNotFound) {
					return common.NewUserError(fmt.Sprintf("analysis %s not found", args[0]), err)
				}
				return err
			}
			facts, err := store.GetPhysicalFacts(ctx, analysis.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(facts) == 0 {
				_, err := fmt.Fprintln(out, cli.InfoStyle.Render("No physical presence recorded."))
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "ID\tState\tEstablished\tEnded\tStatus\tDescription"); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			for i := range facts {
				f := &facts[i]
				ended := "-"
				if f.EndedDate != nil {
					ended = f.EndedDate.Format(dateLayout)
				}
				status := "ended"
				if f.StillActive(analysis.AsOfDate) {
					status = "active"
				}
				if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					f.ID, f.State, f.EstablishedDate.Format(dateLayout), ended, status, f.Description); err != nil {
					return fmt.Errorf("failed to write fact row: %w", err)
				}
			}
			return w.Flush()
		},
	}
}

func deletePhysicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <analysis-id> <fact-id>",
		Short: "Delete a physical presence fact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return common.NewUserError(fmt.Sprintf("invalid fact ID %q", args[1]), err)
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

			if err := store.DeletePhysicalFact(ctx, args[0], id); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted physical presence #%d", id)))
			return err
		},
	}
}
