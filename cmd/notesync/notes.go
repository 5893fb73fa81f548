package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var moveCmd = &cobra.Command{
	Use:     "mv <note>... <folder>",
	GroupID: "notes",
	Short:   "Move notes into a subfolder, keeping their tags",
	Long: `Move notes into a folder relative to the note folder root ("." is the root).
Each note is moved on its own: one failure does not stop the others.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, dest := args[:len(args)-1], args[len(args)-1]
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			tally, err := e.MoveNotes(ctx, paths, dest)
			if err != nil {
				return err
			}
			return printTally("Moved", tally)
		})
	},
}

var copyCmd = &cobra.Command{
	Use:     "cp <note>... <folder>",
	GroupID: "notes",
	Short:   "Copy notes into a subfolder with their manual tags",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, dest := args[:len(args)-1], args[len(args)-1]
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			tally, err := e.CopyNotes(ctx, paths, dest)
			if err != nil {
				return err
			}
			return printTally("Copied", tally)
		})
	},
}

// printTally prints one line per item and fails when any item failed.
func printTally(verb string, t engine.Tally) error {
	for _, p := range t.Succeeded {
		fmt.Printf("%s %s %s\n", ui.SuccessStyle.Render("✓"), verb, ui.PathStyle.Render(p))
	}
	for _, f := range t.Failed {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.ErrorStyle.Render("✗"), f.Path, f.Err)
		if step := engine.NextStep(f.Err); step != "" {
			fmt.Fprintf(os.Stderr, "   %s\n", ui.MutedStyle.Render(step))
		}
	}
	if !t.OK() {
		return fmt.Errorf("%s", t)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(copyCmd)
}
