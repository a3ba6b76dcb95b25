package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/analysis"
	"github.com/Veraticus/nexus-exposure/internal/cli"
	"github.com/Veraticus/nexus-exposure/internal/common"
)

// pollInterval is how often calculate refreshes run progress.
const pollInterval = 100 * time.Millisecond

func calculateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calculate <analysis-id>",
		Short: "Determine nexus and estimate liability",
		Long: `Evaluate every state with sales or physical presence, year by year, and
replace the analysis's stored results. Interrupting a calculation cancels it
and keeps the previous results.`,
		Args: cobra.ExactArgs(1),
		RunE: runCalculate,
	}

	cmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	cmd.Flags().Bool("details", false, "Print every state-year row after the summary")

	return cmd
}

func runCalculate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	details, _ := cmd.Flags().GetBool("details")
	out := cmd.OutOrStdout()

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

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	watchCtx, stop := interrupts.HandleInterrupts(ctx)
	defer stop()

	run, err := manager.Submit(ctx, args[0])
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NewUserError(fmt.Sprintf("analysis %q does not exist", args[0]), err)
		}
		return err
	}
	interrupts.SetRun(run.ID)

	run, err = watchRun(watchCtx, manager, run, noProgress, cli.NewRunProgress(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	if err := cli.WriteRun(out, run, time.Now()); err != nil {
		return err
	}

	switch run.Status {
	case analysis.StatusComplete, analysis.StatusPartial:
		// Results are shown below.
	case analysis.StatusCancelled:
		return fmt.Errorf("run %s was cancelled", run.ID)
	default:
		msg := "calculation failed"
		if run.Error != nil {
			msg = *run.Error
		}
		return common.NewUserError(msg, nil)
	}

	storeCtx := context.WithoutCancel(ctx)
	summary, err := store.GetSummary(storeCtx, run.AnalysisID)
	if err != nil {
		return fmt.Errorf("failed to load summary: %w", err)
	}
	if err := cli.WriteSummary(out, summary); err != nil {
		return err
	}
	if !details {
		return nil
	}
	results, err := store.GetResults(storeCtx, run.AnalysisID)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}
	return cli.WriteResults(out, results)
}

// watchRun polls run until it finishes. When ctx is done the run is cancelled
// and its final state is returned.
func watchRun(ctx context.Context, manager *analysis.Manager, run *analysis.Run, noProgress bool, progress *cli.RunProgress) (*analysis.Run, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	storeCtx := context.WithoutCancel(ctx)
	var err error
	for !run.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			slog.Info("Cancelling calculation", "run_id", run.ID)
			if cancelErr := manager.Cancel(storeCtx, run.ID); cancelErr != nil && !errors.Is(cancelErr, analysis.ErrRunFinished) {
				return nil, cancelErr
			}
			waitCtx, cancel := context.WithTimeout(storeCtx, 10*time.Second)
			run, err = manager.Wait(waitCtx, run.ID)
			cancel()
			if err != nil {
				return nil, fmt.Errorf("failed waiting for cancelled run: %w", err)
			}
			progress.Finish()
			return run, nil
		case <-ticker.C:
			run, err = manager.Get(storeCtx, run.ID)
			if err != nil {
				return nil, err
			}
		}
		if !noProgress {
			progress.Update(run.StatesDone, run.StatesTotal)
		}
	}
	if !noProgress {
		progress.Finish()
	}
	return run, nil
}
