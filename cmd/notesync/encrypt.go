package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/ui"
)

// passphraseEnv supplies the passphrase non-interactively.
const passphraseEnv = "NOTESYNC_PASSPHRASE"

var encryptCmd = &cobra.Command{
	Use:     "encrypt <note>...",
	GroupID: "notes",
	Short:   "Encrypt notes with a passphrase",
	Long: `Rewrite notes as encrypted envelopes. The passphrase is asked for on the
terminal, or read from NOTESYNC_PASSPHRASE. It is never stored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rewriteNotes(cmd.Context(), args, true)
	},
}

var decryptCmd = &cobra.Command{
	Use:     "decrypt <note>...",
	GroupID: "notes",
	Short:   "Decrypt notes back to plain text",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rewriteNotes(cmd.Context(), args, false)
	},
}

func rewriteNotes(ctx context.Context, paths []string, encrypt bool) error {
	pass := os.Getenv(passphraseEnv)
	if pass == "" {
		var err error
		pass, err = promptPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if encrypt && term.IsTerminal(int(os.Stdin.Fd())) {
			again, err := promptPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != pass {
				return errors.New("passphrases do not match")
			}
		}
	}

	return withEngine(ctx, true, func(ctx context.Context, e *engine.Engine) error {
		if err := e.Unlock(ctx, pass); err != nil {
			return err
		}
		defer e.Lock(context.WithoutCancel(ctx))

		verb, rewrite := "Decrypted", e.DecryptNote
		if encrypt {
			verb, rewrite = "Encrypted", e.EncryptNote
		}
		var failed int
		for _, p := range paths {
			if err := rewrite(ctx, p); err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.ErrorStyle.Render("✗"), p, err)
				continue
			}
			fmt.Printf("%s %s %s\n", ui.SuccessStyle.Render("✓"), verb, ui.PathStyle.Render(p))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d notes failed", failed, len(paths))
		}
		return nil
	})
}

// promptPassphrase reads a passphrase without echo on a terminal, or a line
// from stdin otherwise.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return strings.TrimSpace(string(pass)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	pass, err := reader.ReadString('\n')
	if err != nil && pass == "" {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return strings.TrimSpace(pass), nil
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(decryptCmd)
}
