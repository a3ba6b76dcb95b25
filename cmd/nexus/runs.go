package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/analysis"
	"github.com/Veraticus/nexus-exposure/internal/cli"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect calculation runs",
	}

	cmd.AddCommand(listRunsCmd())
	cmd.AddCommand(showRunCmd())
	cmd.AddCommand(cancelRunCmd())

	return cmd
}

func listRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <analysis-id>",
		Short: "List an analysis's runs, newest first",
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

			runs, err := analysis.NewSQLiteRunStore(store.DB()).ListByAnalysis(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				_, err := fmt.Fprintln(out, cli.InfoStyle.Render("No runs yet."))
				return err
			}

			now := time.Now()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if _, err := fmt.Fprintln(w, "Run\tStatus\tStarted\tDuration\tStates\tFailed"); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			for _, run := range runs {
				if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\n",
					run.ID,
					cli.StyleStatus(string(run.Status)),
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.Duration(now).Round(time.Millisecond),
					run.StatesDone, run.StatesTotal,
					len(run.StateErrors)); err != nil {
					return fmt.Errorf("failed to write run row: %w", err)
				}
			}
			return w.Flush()
		},
	}
}

func showRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's status and failed states",
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

			run, err := analysis.NewSQLiteRunStore(store.DB()).Get(ctx, args[0])
			if err != nil {
				return err
			}
			return cli.WriteRun(cmd.OutOrStdout(), run, time.Now())
		},
	}
}

func cancelRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Mark a run left unfinished by a crashed process as cancelled",
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

			repo, err := loadRules(cfg)
			if err != nil {
				return err
			}
			manager, err := newManager(store, cfg, repo)
			if err != nil {
				return err
			}
			defer shutdownManager(manager)

			if err := manager.Cancel(ctx, args[0]); err != nil {
				if errors.Is(err, analysis.ErrRunFinished) {
					_, werr := fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Run already finished"))
					return werr
				}
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Run "+args[0]+" cancelled"))
			return err
		},
	}
}
