package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var trashCmd = &cobra.Command{
	Use:     "trash",
	GroupID: "trash",
	Short:   "Move notes to the local trash, restore or purge them",
	Long: `Manage the folder's local trash (<folder>/.trash).

Trashed notes are kept for retention_days (default 30) and purged by the
engine afterwards. A restore never overwrites an existing note: when the
original path is taken the note comes back as "name (restored N).md".`,
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed notes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			entries, err := e.ListTrash(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(ui.MutedStyle.Render("Trash is empty"))
				return nil
			}
			for _, entry := range entries {
				fmt.Printf("%s  %s  %s\n", ui.MutedStyle.Render(entry.ID), ui.PathStyle.Render(entry.OriginalPath), ui.Ago(entry.TrashedAt))
			}
			return nil
		})
	},
}

var trashAddCmd = &cobra.Command{
	Use:   "add <note>...",
	Short: "Move notes to the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			tally, err := e.TrashNotes(ctx, args)
			if err != nil {
				return err
			}
			return printTally("Trashed", tally)
		})
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a trashed note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			result, err := e.RestoreTrash(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s Restored %s\n", ui.SuccessStyle.Render("✓"), ui.PathStyle.Render(result.Path))
			if w := result.Warning(); w != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.WarningStyle.Render("!"), w)
			}
			return nil
		})
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired trash now",
	Long: `Delete trash entries older than the retention period. --days 0 empties
the trash.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days := settings.RetentionDays
		if cmd.Flags().Changed("days") {
			days, _ = cmd.Flags().GetInt("days")
		}
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			result, err := e.PurgeTrash(ctx, days)
			fmt.Printf("%s Purged %d entries older than %s in %v\n", ui.SuccessStyle.Render("✓"),
				result.Purged, result.Cutoff.Format(time.DateTime), result.Duration.Round(time.Millisecond))
			if result.Missing > 0 {
				fmt.Printf("   %d entries had already lost their file\n", result.Missing)
			}
			for _, perr := range result.Errors {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.ErrorStyle.Render("✗"), perr)
			}
			return err
		})
	},
}

var historyCmd = &cobra.Command{
	Use:     "history <note>",
	GroupID: "trash",
	Short:   "List local versions of a note",
	Long: `List the snapshots taken before saves replaced a note's content. Restore
one with 'notesync history restore <note> <id>'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			versions, err := e.Trash().ListVersions(args[0])
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Println(ui.MutedStyle.Render("No local versions"))
				return nil
			}
			for _, v := range versions {
				fmt.Printf("%s  %s  %s\n", ui.MutedStyle.Render(v.ID), ui.Ago(v.CreatedAt), ui.Bytes(v.Size))
			}
			return nil
		})
	},
}

var historyRestoreCmd = &cobra.Command{
	Use:   "restore <note> <id>",
	Short: "Save a local version as the note's content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			content, err := e.Trash().ReadVersion(args[0], args[1])
			if err != nil {
				return err
			}
			if err := e.RestoreNote(ctx, args[0], content); err != nil {
				return err
			}
			fmt.Printf("%s Restored %s to version %s\n", ui.SuccessStyle.Render("✓"), ui.PathStyle.Render(args[0]), args[1])
			return nil
		})
	},
}

func init() {
	trashPurgeCmd.Flags().Int("days", 30, "retention in days (default: retention_days)")

	trashCmd.AddCommand(trashListCmd)
	trashCmd.AddCommand(trashAddCmd)
	trashCmd.AddCommand(trashRestoreCmd)
	trashCmd.AddCommand(trashPurgeCmd)
	rootCmd.AddCommand(trashCmd)

	historyCmd.AddCommand(historyRestoreCmd)
	rootCmd.AddCommand(historyCmd)
}
