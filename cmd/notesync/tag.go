package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var tagCmd = &cobra.Command{
	Use:     "tag",
	GroupID: "notes",
	Short:   "List, create and apply tags",
	Long: `Manage folder tags.

Tags come from two places: the "tags" list in a note's front matter, which
the engine keeps in sync on every change, and tags applied manually with
'notesync tag apply'. Deleting a tag never deletes notes.`,
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags with their note counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			tags, err := e.ListTags(ctx)
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				fmt.Println(ui.MutedStyle.Render("No tags"))
				return nil
			}
			printTagTree(tags)
			return nil
		})
	},
}

// printTagTree prints tags under their parents.
func printTagTree(tags []engine.TagInfo) {
	children := make(map[int64][]engine.TagInfo)
	known := make(map[int64]bool, len(tags))
	for _, t := range tags {
		known[t.ID] = true
	}
	for _, t := range tags {
		parent := t.ParentID
		if !known[parent] {
			parent = 0
		}
		children[parent] = append(children[parent], t)
	}
	var walk func(parent int64, depth int)
	walk = func(parent int64, depth int) {
		for _, t := range children[parent] {
			style := ui.TagStyle
			if t.Color != "" {
				style = style.Foreground(lipgloss.Color(t.Color))
			}
			fmt.Printf("%s%s %s\n", strings.Repeat("  ", depth), style.Render(t.Name),
				ui.MutedStyle.Render(fmt.Sprintf("%d notes", t.Notes)))
			walk(t.ID, depth+1)
		}
	}
	walk(0, 0)
}

var tagAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		parent, _ := cmd.Flags().GetString("parent")
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			t, err := e.CreateTag(ctx, args[0], color, parent)
			if err != nil {
				return err
			}
			fmt.Printf("%s Created tag %s\n", ui.SuccessStyle.Render("✓"), ui.TagStyle.Render(t.Name))
			return nil
		})
	},
}

var tagApplyCmd = &cobra.Command{
	Use:   "apply <name> <note>...",
	Short: "Apply a tag to notes, creating it if needed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			tally, err := e.ApplyTag(ctx, args[1:], args[0])
			if err != nil {
				return err
			}
			return printTally("Tagged", tally)
		})
	},
}

var tagShowCmd = &cobra.Command{
	Use:   "show <note>",
	Short: "Show the tags of a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			names, err := e.NoteTags(ctx, args[0])
			if err != nil {
				return err
			}
			rendered := make([]string, len(names))
			for i, n := range names {
				rendered[i] = ui.TagStyle.Render(n)
			}
			fmt.Println(ui.Field(args[0], strings.Join(rendered, " ")))
			return nil
		})
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a tag; notes are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			if err := e.DeleteTag(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Deleted tag %s\n", ui.SuccessStyle.Render("✓"), args[0])
			return nil
		})
	},
}

func init() {
	tagAddCmd.Flags().String("color", "", "display color, e.g. #ff8800")
	tagAddCmd.Flags().String("parent", "", "parent tag")

	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagApplyCmd)
	tagCmd.AddCommand(tagShowCmd)
	tagCmd.AddCommand(tagDeleteCmd)
	rootCmd.AddCommand(tagCmd)
}
