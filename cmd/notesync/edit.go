package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var editCmd = &cobra.Command{
	Use:     "edit <note>",
	GroupID: "notes",
	Short:   "Edit a note in $EDITOR with conflict detection",
	Long: `Open a note in $EDITOR (or $VISUAL) and save it back through the engine.

While the editor is open the engine watches the note. If another program
changes the file in the meantime, saving is paused and you choose between
your version and the one on disk. Encrypted notes ask for the passphrase.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEngine(ctx, false, nil)
		if err != nil {
			return err
		}
		defer e.Stop()
		return editNote(ctx, e, args[0])
	},
}

func editNote(ctx context.Context, e *engine.Engine, path string) error {
	n, err := e.OpenNote(ctx, path)
	if errors.Is(err, note.ErrNoPassphrase) {
		pass, perr := promptPassphrase("Passphrase: ")
		if perr != nil {
			return perr
		}
		if err := e.Unlock(ctx, pass); err != nil {
			return err
		}
		n, err = e.OpenNote(ctx, path)
	}
	if err != nil {
		return err
	}
	defer e.CloseNote(context.WithoutCancel(ctx), n.Path)

	if err := e.BeginEdit(ctx, n.Path); err != nil {
		return err
	}
	content, err := runEditor(ctx, n.Path, n.Content)
	if err != nil {
		return err
	}
	if err := e.EditNote(ctx, n.Path, content); err != nil {
		return err
	}

	err = e.SaveNote(ctx, n.Path, content)
	if errors.Is(err, resolver.ErrConflictUnresolved) {
		fmt.Println(ui.WarningStyle.Render(n.Path + " changed on disk while you were editing it."))
		return resolveConflict(ctx, e, n.Path)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s Saved %s\n", ui.SuccessStyle.Render("✓"), ui.PathStyle.Render(n.Path))
	return nil
}

// resolveConflict asks about the conflict on path until it is decided.
func resolveConflict(ctx context.Context, e *engine.Engine, path string) error {
	for {
		pending, err := e.PendingConflicts(ctx)
		if err != nil {
			return err
		}
		var c *resolver.Conflict
		for i := range pending {
			if pending[i].Path == path {
				c = &pending[i]
			}
		}
		if c == nil {
			return nil
		}

		choice, err := ui.AskConflict(ctx, *c)
		if err != nil {
			return err
		}
		act, err := e.ResolveConflict(ctx, path, choice)
		if errors.Is(err, resolver.ErrConflictUnresolved) {
			// Changed again before the decision was written; ask anew.
			fmt.Println(ui.WarningStyle.Render(path + " changed on disk again."))
			continue
		}
		if err != nil {
			return err
		}
		switch choice {
		case resolver.ViewDiff:
			fmt.Println(ui.HeaderStyle.Render(path + ": - yours, + on disk"))
			fmt.Print(ui.RenderDiff(act.Diff))
		case resolver.KeepMine:
			fmt.Printf("%s Saved your version of %s\n", ui.SuccessStyle.Render("✓"), ui.PathStyle.Render(path))
			return nil
		case resolver.AcceptTheirs:
			fmt.Println(ui.MutedStyle.Render("Kept the file on disk; your edits were discarded."))
			return nil
		}
	}
}

// runEditor writes content to a temporary file outside the note folder,
// runs the user's editor on it and returns the result.
func runEditor(ctx context.Context, path, content string) (string, error) {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	dir, err := os.MkdirTemp("", "notesync-edit-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)
	tmp := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		return "", err
	}

	fields := strings.Fields(editor)
	cmd := exec.CommandContext(ctx, fields[0], append(fields[1:], tmp)...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("editor %s: %w", fields[0], err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func init() {
	rootCmd.AddCommand(editCmd)
}
