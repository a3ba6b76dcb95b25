package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Veraticus/nexus-exposure/internal/cli"
	"github.com/Veraticus/nexus-exposure/internal/storage"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage database checkpoints",
		Long: `Create, list, restore, and delete database checkpoints.

Imports take an automatic checkpoint first, so a bad export can be rolled back
together with every analysis and result stored alongside it.`,
		Example: `  # Save the database before editing physical facts
  nexus checkpoint create --tag before-cleanup

  # List all checkpoints
  nexus checkpoint list

  # Roll back
  nexus checkpoint restore before-cleanup`,
	}

	cmd.AddCommand(createCheckpointCmd())
	cmd.AddCommand(listCheckpointsCmd())
	cmd.AddCommand(restoreCheckpointCmd())
	cmd.AddCommand(deleteCheckpointCmd())

	return cmd
}

// openCheckpoints opens storage and its checkpoint manager. The returned
// storage must be closed by the caller.
func openCheckpoints(cmd *cobra.Command) (*storage.SQLiteStorage, *storage.CheckpointManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	manager, err := store.NewCheckpointManager()
	if err != nil {
		closeStorage(store)
		return nil, nil, fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	return store, manager, nil
}

func createCheckpointCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, manager, err := openCheckpoints(cmd)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			info, err := manager.Create(cmd.Context(), tag, description)
			if err != nil {
				return fmt.Errorf("failed to create checkpoint: %w", err)
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "%s Created checkpoint %s (%s)\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(info.ID),
				formatFileSize(info.FileSize)); err != nil {
				return err
			}
			if info.Description != "" {
				_, err = fmt.Fprintf(out, "  Description: %s\n", info.Description)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Checkpoint name (auto-generated if not provided)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the checkpoint")

	return cmd
}

func listCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all checkpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, manager, err := openCheckpoints(cmd)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			checkpoints, err := manager.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list checkpoints: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(checkpoints) == 0 {
				_, err := fmt.Fprintln(out, cli.SubtitleStyle.Render("No checkpoints found."))
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
			if _, err := fmt.Fprintln(w, strings.Join([]string{
				headerStyle.Render("NAME"),
				headerStyle.Render("CREATED"),
				headerStyle.Render("SIZE"),
				headerStyle.Render("ROWS"),
				headerStyle.Render("TYPE"),
			}, "\t")); err != nil {
				return err
			}

			now := time.Now()
			for _, cp := range checkpoints {
				typeLabel := "manual"
				if cp.IsAuto {
					typeLabel = "auto"
				}
				if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					cli.InfoStyle.Render(cp.ID),
					formatRelativeTime(cp.CreatedAt, now),
					formatFileSize(cp.FileSize),
					formatRowCounts(cp.RowCounts),
					cli.SubtitleStyle.Render(typeLabel),
				); err != nil {
					return err
				}
			}
			return w.Flush()
		},
	}
}

func restoreCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Restore the database from a checkpoint",
		Long:  `Replace the current database with a checkpoint. Runs in progress elsewhere are lost.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpointID := args[0]
			store, manager, err := openCheckpoints(cmd)
			if err != nil {
				return err
			}
			// Restore closes the connection itself; closing again is a no-op.
			defer closeStorage(store)

			info, err := manager.Get(cmd.Context(), checkpointID)
			if err != nil {
				return fmt.Errorf("failed to get checkpoint info: %w", err)
			}

			out := cmd.OutOrStdout()
			if !force {
				if _, err := fmt.Fprintf(out, "%s This will replace your current database with checkpoint %s.\n  Created: %s\n",
					cli.WarningStyle.Render(cli.WarningIcon),
					cli.InfoStyle.Render(checkpointID),
					info.CreatedAt.Local().Format("2006-01-02 15:04:05")); err != nil {
					return err
				}
				if !confirm(cmd.InOrStdin(), out) {
					_, err := fmt.Fprintln(out, cli.SubtitleStyle.Render("Restore cancelled."))
					return err
				}
			}

			if err := manager.Restore(cmd.Context(), checkpointID); err != nil {
				return fmt.Errorf("failed to restore checkpoint: %w", err)
			}

			_, err = fmt.Fprintf(out, "%s Restored from checkpoint %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(checkpointID))
			return err
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

func deleteCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <checkpoint-id>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpointID := args[0]
			store, manager, err := openCheckpoints(cmd)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			info, err := manager.Get(cmd.Context(), checkpointID)
			if err != nil {
				return fmt.Errorf("failed to get checkpoint info: %w", err)
			}

			out := cmd.OutOrStdout()
			if !force {
				if _, err := fmt.Fprintf(out, "%s This will permanently delete checkpoint %s (%s).\n",
					cli.WarningStyle.Render(cli.WarningIcon),
					cli.InfoStyle.Render(checkpointID),
					formatFileSize(info.FileSize)); err != nil {
					return err
				}
				if !confirm(cmd.InOrStdin(), out) {
					_, err := fmt.Fprintln(out, cli.SubtitleStyle.Render("Deletion cancelled."))
					return err
				}
			}

			if err := manager.Delete(cmd.Context(), checkpointID); err != nil {
				return fmt.Errorf("failed to delete checkpoint: %w", err)
			}

			_, err = fmt.Fprintf(out, "%s Deleted checkpoint %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(checkpointID))
			return err
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

// confirm asks a y/N question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer) bool {
	_, _ = fmt.Fprint(out, "\nContinue? (y/N) ")
	response, _ := bufio.NewReader(in).ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(response)), "y")
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t, now time.Time) string {
	duration := now.Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		if minutes := int(duration.Minutes()); minutes != 1 {
			return fmt.Sprintf("%d minutes ago", minutes)
		}
		return "1 minute ago"
	case duration < 24*time.Hour:
		if hours := int(duration.Hours()); hours != 1 {
			return fmt.Sprintf("%d hours ago", hours)
		}
		return "1 hour ago"
	case duration < 7*24*time.Hour:
		if days := int(duration.Hours() / 24); days != 1 {
			return fmt.Sprintf("%d days ago", days)
		}
		return "yesterday"
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// formatRowCounts renders "transactions=12 analyses=1" style summaries, with
// empty tables omitted.
func formatRowCounts(counts map[string]int) string {
	tables := make([]string, 0, len(counts))
	for table, n := range counts {
		if n > 0 {
			tables = append(tables, table)
		}
	}
	if len(tables) == 0 {
		return "empty"
	}
	sort.Strings(tables)
	parts := make([]string, 0, len(tables))
	for _, table := range tables {
		parts = append(parts, fmt.Sprintf("%s=%d", table, counts[table]))
	}
	return strings.Join(parts, " ")
}
