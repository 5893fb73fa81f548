package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	GroupID: "notes",
	Short:   "Scan the folder once and update the cache",
	Long: `Walk the note folder and bring the metadata cache up to date.

Created, modified, removed and renamed notes are recorded; front matter tags
are refreshed for every changed note.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			fmt.Printf("Scanning %s...\n", ui.PathStyle.Render(e.Root()))
			result, err := e.Scan(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s Scan complete in %v\n", ui.SuccessStyle.Render("✓"), result.Duration.Round(time.Millisecond))
			fmt.Printf("   Files: %d\n", result.Files)
			fmt.Printf("   Created: %d  Modified: %d  Removed: %d  Renamed: %d\n",
				result.Created, result.Modified, result.Removed, result.Renamed)
			if result.Unreadable > 0 {
				fmt.Printf("   %s %d unreadable, retried on the next scan\n", ui.WarningStyle.Render("!"), result.Unreadable)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "notes",
	Short:   "Show folder, cache and server status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			st, err := e.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		})
	},
}

func printStatus(st engine.Status) {
	fmt.Println(ui.HeaderStyle.Render("notesync status"))
	fmt.Println(ui.Field("Folder", st.Root))
	cache := st.CachePath
	if st.InMemory {
		cache = ui.WarningStyle.Render("in memory (not saved)")
	}
	fmt.Println(ui.Field("Cache", cache))
	fmt.Println(ui.Field("Notes", st.Notes))
	fmt.Println(ui.Field("Trash", st.Trashed))
	fmt.Println(ui.Field("Conflict policy", st.Policy))
	if len(st.Open) > 0 {
		fmt.Println(ui.Field("Open", strings.Join(st.Open, ", ")))
	}
	for _, c := range st.Pending {
		fmt.Println(ui.Field("Conflict", fmt.Sprintf("%s (%d changes, since %s)", c.Path, c.Generation, ui.Ago(c.DetectedAt))))
	}
	if st.RemoteURL == "" {
		fmt.Println(ui.Field("Server", ui.MutedStyle.Render("not configured")))
		return
	}
	fmt.Println(ui.Field("Server", st.RemoteURL))
	if st.RemoteCaps == nil {
		fmt.Println(ui.Field("Capabilities", ui.MutedStyle.Render("not probed, run 'notesync remote caps'")))
		return
	}
	fmt.Println(ui.Field("Capabilities", fmt.Sprintf("versions=%t trash=%t api=%s (probed %s)",
		st.RemoteCaps.Versions, st.RemoteCaps.Trash, st.RemoteCaps.APIVersion, ui.Ago(st.RemoteCaps.ProbedAt))))
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(statusCmd)
}
