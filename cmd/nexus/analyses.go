package main

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/analysis"
	"github.com/Veraticus/nexus-exposure/internal/cli"
	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/model"
)

func analysisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "analysis",
		Aliases: []string{"analyses"},
		Short:   "Create and inspect analyses",
		Long: `An analysis groups one seller's sales and physical presence facts and fixes
the date the exposure is evaluated as of.`,
		Example: `  # Create an analysis evaluated as of year end
  nexus analysis create --name "Acme 2024" --as-of 2024-12-31

  # Assume a voluntary disclosure filed next spring
  nexus analysis set-dates acme --as-of 2024-12-31 --vda-date 2025-04-01`,
	}

	cmd.AddCommand(createAnalysisCmd())
	cmd.AddCommand(listAnalysesCmd())
	cmd.AddCommand(showAnalysisCmd())
	cmd.AddCommand(setAnalysisDatesCmd())

	return cmd
}

func createAnalysisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new analysis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")

			asOf, err := dateFlag(cmd, "as-of")
			if err != nil {
				return err
			}
			if asOf.IsZero() {
				now := time.Now().UTC()
				asOf = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			}
			vdaDate, err := dateFlag(cmd, "vda-date")
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.New().String()
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

			a := &model.Analysis{ID: id, Name: name, AsOfDate: asOf, VDADate: vdaDate}
			if err := store.CreateAnalysis(ctx, a); err != nil {
				if errors.Is(err, common.ErrDuplicateEntry) {
					return common.NewUserError(fmt.Sprintf("analysis %q already exists", id), err)
				}
				return fmt.Errorf("failed to create analysis: %w", err)
			}

			slog.Info("Created analysis", "id", a.ID, "as_of", asOf.Format(dateLayout))
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created analysis %s (as of %s)", a.ID, asOf.Format(dateLayout))))
			return err
		},
	}

	cmd.Flags().String("id", "", "Analysis ID (default: generated)")
	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("as-of", "", "Evaluation date, YYYY-MM-DD (default: today)")
	cmd.Flags().String("vda-date", "", "Assumed voluntary disclosure filing date, YYYY-MM-DD (default: as-of date)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func listAnalysesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List analyses",
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			analyses, err := store.ListAnalyses(ctx)
			if err != nil {
				return fmt.Errorf("failed to list analyses: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(analyses) == 0 {
				_, err := fmt.Fprintln(out, cli.InfoStyle.Render("No analyses found. Use 'nexus analysis create' to create one."))
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "ID\tName\tAs Of\tVDA Date\tCreated"); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			for i := range analyses {
				a := &analyses[i]
				vda := "-"
				if !a.VDADate.IsZero() {
					vda = a.VDADate.Format(dateLayout)
				}
				if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					a.ID, a.Name, a.AsOfDate.Format(dateLayout), vda, a.CreatedAt.Format(dateLayout)); err != nil {
					return fmt.Errorf("failed to write analysis row: %w", err)
				}
			}
			return w.Flush()
		},
	}
}

func showAnalysisCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <analysis-id>",
		Short: "Show an analysis with its data and latest run",
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

			a, err := store.GetAnalysis(ctx, args[0])
			if err != nil {
				return err
			}
			count, err := store.GetTransactionCount(ctx, a.ID)
			if err != nil {
				return err
			}
			facts, err := store.GetPhysicalFacts(ctx, a.ID)
			if err != nil {
				return err
			}

			body := fmt.Sprintf("Name: %s\n", a.Name) +
				fmt.Sprintf("As of: %s\n", a.AsOfDate.Format(dateLayout)) +
				fmt.Sprintf("VDA date: %s\n", a.EffectiveVDADate().Format(dateLayout)) +
				fmt.Sprintf("Transactions: %d\n", count) +
				fmt.Sprintf("Physical facts: %d", len(facts))

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, cli.RenderBox(cli.FolderIcon+" "+a.ID, body)); err != nil {
				return err
			}

			runs, err := analysis.NewSQLiteRunStore(store.DB()).ListByAnalysis(ctx, a.ID)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, err := fmt.Fprintln(out, cli.SubtleStyle.Render("Not calculated yet."))
				return err
			}
			return cli.WriteRun(out, runs[0], time.Now())
		},
	}
}

func setAnalysisDatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-dates <analysis-id>",
		Short: "Change the evaluation and VDA dates",
		Long: `Change the dates an analysis is evaluated against. Stored results are not
recalculated; run 'nexus calculate' afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			asOf, err := dateFlag(cmd, "as-of")
			if err != nil {
				return err
			}
			vdaDate, err := dateFlag(cmd, "vda-date")
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

			a, err := store.GetAnalysis(ctx, args[0])
			if err != nil {
				return err
			}
			if asOf.IsZero() {
				asOf = a.AsOfDate
			}
			if err := store.UpdateAnalysisDates(ctx, a.ID, asOf, vdaDate); err != nil {
				return fmt.Errorf("failed to update analysis: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Updated %s; run 'nexus calculate %s' to refresh results", a.ID, a.ID)))
			return err
		},
	}

	cmd.Flags().String("as-of", "", "Evaluation date, YYYY-MM-DD (default: unchanged)")
	cmd.Flags().String("vda-date", "", "Voluntary disclosure date, YYYY-MM-DD (default: as-of date)")

	return cmd
}
