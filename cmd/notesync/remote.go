package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/remote"
	"github.com/mschirtzinger/notesync/internal/remote/remotetest"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "remote",
	Short:   "Server versions and trash",
	Long: `Work with the optional note server configured under "remote" in the config
file (url, username, and password or token).

Version history and the server trash are optional server components; their
availability is probed once and cached. 'notesync remote caps' probes again.`,
}

// await runs an async engine call and waits for its result. Cancelling ctx
// cancels the call; its result is then dropped.
func await[T any](ctx context.Context, start func(done func(T, error)) (context.CancelFunc, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	cancel, err := start(func(v T, err error) { ch <- result{v, err} })
	if err != nil {
		var zero T
		return zero, err
	}
	defer cancel()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

var remoteCapsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Probe the server's capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			gw, err := e.Gateway()
			if err != nil {
				return err
			}
			caps, err := gw.RefreshCapabilities(ctx)
			if err != nil {
				return err
			}
			fmt.Println(ui.Field("Server", caps.ServerURL))
			fmt.Println(ui.Field("API version", caps.APIVersion))
			fmt.Println(ui.Field("Versions", available(caps.Versions)))
			fmt.Println(ui.Field("Trash", available(caps.Trash)))
			return nil
		})
	},
}

func available(ok bool) string {
	if ok {
		return ui.SuccessStyle.Render("available")
	}
	return ui.MutedStyle.Render("not offered")
}

var remoteVersionsCmd = &cobra.Command{
	Use:   "versions <note>",
	Short: "List server versions of a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			list, err := await(ctx, func(done func([]remote.VersionEntry, error)) (context.CancelFunc, error) {
				return e.FetchVersionListAsync(args[0], done)
			})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println(ui.MutedStyle.Render("No server versions"))
				return nil
			}
			for _, v := range list {
				fmt.Printf("%s  %s  %s\n", ui.MutedStyle.Render(v.ID), ui.Ago(v.Timestamp), v.Label)
			}
			return nil
		})
	},
}

var remoteRestoreVersionCmd = &cobra.Command{
	Use:   "restore-version <note> <id>",
	Short: "Save a server version as the note's content",
	Long: `Download a server version and save it through the normal save path: a
local snapshot of the replaced content is kept, and an open note with a
pending conflict refuses the restore.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), true, func(ctx context.Context, e *engine.Engine) error {
			list, err := await(ctx, func(done func([]remote.VersionEntry, error)) (context.CancelFunc, error) {
				return e.FetchVersionListAsync(args[0], done)
			})
			if err != nil {
				return err
			}
			var entry *remote.VersionEntry
			for i := range list {
				if list[i].ID == args[1] {
					entry = &list[i]
				}
			}
			if entry == nil {
				return fmt.Errorf("version %s of %s: %w", args[1], args[0], remote.ErrRemoteNotFound)
			}
			_, err = await(ctx, func(done func(struct{}, error)) (context.CancelFunc, error) {
				return e.RestoreVersionAsync(*entry, func(err error) { done(struct{}{}, err) })
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s Restored %s to server version %s\n", ui.SuccessStyle.Render("✓"), ui.PathStyle.Render(args[0]), entry.ID)
			return nil
		})
	},
}

var remoteTrashCmd = &cobra.Command{
	Use:   "trash",
	Short: "List notes in the server trash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			list, err := await(ctx, e.FetchTrashListAsync)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println(ui.MutedStyle.Render("Server trash is empty"))
				return nil
			}
			for _, t := range list {
				fmt.Printf("%s  %s  %s  %s\n", ui.MutedStyle.Render(t.ID), ui.PathStyle.Render(t.Path), ui.Ago(t.DeletedAt), ui.Bytes(t.Size))
			}
			return nil
		})
	},
}

var remoteRestoreTrashCmd = &cobra.Command{
	Use:   "restore-trash <id>",
	Short: "Recreate a note from the server trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), false, func(ctx context.Context, e *engine.Engine) error {
			list, err := await(ctx, e.FetchTrashListAsync)
			if err != nil {
				return err
			}
			var entry *remote.TrashEntry
			for i := range list {
				if list[i].ID == args[0] {
					entry = &list[i]
				}
			}
			if entry == nil {
				return fmt.Errorf("trash entry %s: %w", args[0], remote.ErrRemoteNotFound)
			}

			result, err := await(ctx, func(done func(remote.RemoteRestore, error)) (context.CancelFunc, error) {
				return e.RestoreFromRemoteTrashAsync(*entry, done)
			})
			if err != nil {
				return err
			}
			// Record the new file now rather than on the next watch.
			if _, err := e.Scan(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Restored %s\n", ui.SuccessStyle.Render("✓"), ui.PathStyle.Render(result.Path))
			if result.Collision {
				fmt.Printf("   %s %s was taken; restored under a new name\n", ui.WarningStyle.Render("!"), entry.Path)
			}
			if result.AckErr != nil {
				fmt.Fprintf(os.Stderr, "%s the server was not told: %v\n", ui.WarningStyle.Render("!"), result.AckErr)
			}
			return nil
		})
	},
}

var remoteServeDevCmd = &cobra.Command{
	Use:   "serve-dev",
	Short: "Run an in-memory note server for trying remote features",
	Long: `Serve the remote API from memory. Nothing is persisted.

With --seed the server trash gets a sample note and, when a folder is
configured, every note at the folder root gets one server version holding its
current content. Point the remote url at the printed address:

  NOTESYNC_REMOTE_URL=http://127.0.0.1:9000 notesync remote trash`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		seed, _ := cmd.Flags().GetBool("seed")
		noVersions, _ := cmd.Flags().GetBool("no-versions")
		noTrash, _ := cmd.Flags().GetBool("no-trash")

		srv := remotetest.New(remotetest.Options{
			Username:        settings.Remote.Username,
			Password:        settings.Remote.Password,
			Token:           settings.Remote.Token,
			DisableVersions: noVersions,
			DisableTrash:    noTrash,
			RequestLog:      true,
		})
		if seed {
			seedServer(srv, settings.Folder)
		}

		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() { errc <- httpSrv.ListenAndServe() }()
		fmt.Printf("%s Serving the remote API on http://%s\n", ui.SuccessStyle.Render("●"), addr)
		fmt.Println(ui.MutedStyle.Render("Press Ctrl+C to stop"))

		select {
		case err := <-errc:
			return err
		case <-cmd.Context().Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func seedServer(srv *remotetest.Server, folder string) {
	now := time.Now()
	srv.AddTrash("Deleted on server.md", "# Deleted on server\n\nRestore me with notesync remote restore-trash.\n", now.Add(-2*time.Hour))
	if folder == "" {
		return
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		logger.Warn("cannot seed versions", "folder", folder, "error", err)
		return
	}
	exts := note.NewExtensions(settings.Extensions...)
	for _, entry := range entries {
		if entry.IsDir() || !exts.Matches(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(folder, entry.Name()))
		if err != nil {
			continue
		}
		srv.AddVersion(entry.Name(), "server copy", string(data), now.Add(-24*time.Hour))
	}
}

func init() {
	remoteServeDevCmd.Flags().String("addr", "127.0.0.1:9000", "listen address")
	remoteServeDevCmd.Flags().Bool("seed", false, "add sample trash and versions")
	remoteServeDevCmd.Flags().Bool("no-versions", false, "do not offer version history")
	remoteServeDevCmd.Flags().Bool("no-trash", false, "do not offer the trash")

	remoteCmd.AddCommand(remoteCapsCmd)
	remoteCmd.AddCommand(remoteVersionsCmd)
	remoteCmd.AddCommand(remoteRestoreVersionCmd)
	remoteCmd.AddCommand(remoteTrashCmd)
	remoteCmd.AddCommand(remoteRestoreTrashCmd)
	remoteCmd.AddCommand(remoteServeDevCmd)
	rootCmd.AddCommand(remoteCmd)
}
