package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/cli"
	"github.com/Veraticus/nexus-exposure/internal/common"
	"github.com/Veraticus/nexus-exposure/internal/ingest"
	"github.com/Veraticus/nexus-exposure/internal/model"
	"github.com/Veraticus/nexus-exposure/internal/storage"
)

// maxReportedRowErrors caps the row errors printed per file.
const maxReportedRowErrors = 20

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <analysis-id> <file.csv>...",
		Short: "Import sales from CSV files",
		Long: `Import normalized sales into an analysis.

Each file needs date, state and amount columns. Optional columns are channel
(direct or marketplace), taxable_amount or exempt_amount, and id. Rows that
fail validation are reported and skipped; re-importing a file never creates
duplicates.`,
		Example: `  nexus import acme sales-2023.csv sales-2024.csv
  nexus import acme export.csv --dry-run`,
		Args: cobra.MinimumNArgs(2),
		RunE: runImport,
	}

	cmd.Flags().Bool("dry-run", false, "Validate files without saving")
	cmd.Flags().Bool("strict", false, "Abort without saving if any row is invalid")
	cmd.Flags().Bool("no-checkpoint", false, "Skip the automatic checkpoint taken before importing")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	strict, _ := cmd.Flags().GetBool("strict")
	noCheckpoint, _ := cmd.Flags().GetBool("no-checkpoint")
	analysisID, files := args[0], args[1:]
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

	if _, err := store.GetAnalysis(ctx, analysisID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NewUserError(fmt.Sprintf("analysis %q does not exist; create it with 'nexus analysis create'", analysisID), err)
		}
		return err
	}

	parser := ingest.NewParser(analysisID)
	var all []model.Transaction
	invalid := 0

	for _, path := range files {
		result, err := parseFile(cmd, parser, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, result.Transactions...)
		invalid += len(result.Errors.Rows())

		msg := fmt.Sprintf("%s: %d rows, %d valid", filepath.Base(path), result.Rows, len(result.Transactions))
		if len(result.Errors) == 0 {
			_, err = fmt.Fprintln(out, cli.FormatSuccess(msg))
		} else {
			_, err = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s, %d invalid", msg, len(result.Errors.Rows()))))
		}
		if err != nil {
			return err
		}
		if err := reportRowErrors(out, result.Errors); err != nil {
			return err
		}
	}

	if strict && invalid > 0 {
		return common.NewUserError(fmt.Sprintf("%d invalid rows; nothing was imported", invalid), ingest.ErrInvalidRows)
	}
	if dryRun {
		_, err := fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Dry run: %d transactions would be imported", len(all))))
		return err
	}
	if len(all) == 0 {
		_, err := fmt.Fprintln(out, cli.FormatInfo("Nothing to import"))
		return err
	}

	if !noCheckpoint {
		if cm, err := store.NewCheckpointManager(); err == nil {
			if _, err := cm.AutoCheckpoint(ctx, "import"); err != nil {
				return err
			}
		} else if !errors.Is(err, storage.ErrInMemoryDatabase) {
			return err
		}
	}

	imported, err := store.SaveTransactions(ctx, all)
	if err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	slog.Info("Imported transactions",
		"analysis_id", analysisID,
		"inserted", imported.Inserted,
		"duplicates", imported.Duplicates,
		"invalid", invalid)

	_, err = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d transactions (%d duplicates skipped)", imported.Inserted, imported.Duplicates)))
	return err
}

func parseFile(cmd *cobra.Command, parser *ingest.Parser, path string) (*ingest.Result, error) {
	f, err := os.Open(path) // #nosec G304 - path is a user-supplied import file
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close import file", "path", path, "error", closeErr)
		}
	}()
	return parser.Parse(cmd.Context(), f)
}

func reportRowErrors(out io.Writer, errs ingest.ValidationErrors) error {
	for i, rowErr := range errs {
		if i == maxReportedRowErrors {
			_, err := fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("  ... and %d more", len(errs)-maxReportedRowErrors)))
			return err
		}
		if _, err := fmt.Fprintln(out, cli.ErrorStyle.Render("  "+rowErr.Error())); err != nil {
			return err
		}
	}
	return nil
}
