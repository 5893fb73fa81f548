package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/mschirtzinger/notesync/internal/dashboard"
	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/resolver"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "notes",
	Short:   "Watch the folder and keep the cache up to date (foreground)",
	Long: `Run the engine in the foreground until interrupted.

The engine watches the folder for changes, rescans it periodically as a
safety net and purges expired trash. Every change is printed as it is
applied. On a terminal, conflicts on open notes are asked about
interactively.

With --dashboard a WebSocket dashboard broadcasts the same events:
  ws://127.0.0.1:8080/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		noPrompt, _ := cmd.Flags().GetBool("no-prompt")
		if cmd.Flags().Changed("port") {
			settings.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		return runWatch(cmd.Context(), withDashboard, !noPrompt && term.IsTerminal(int(os.Stdin.Fd())))
	},
}

func runWatch(ctx context.Context, withDashboard, interactive bool) error {
	var (
		eng     *engine.Engine
		prompt  *ui.ConflictPrompt
		handler *dashboard.Handler
	)

	if withDashboard {
		server := dashboard.NewServer(&dashboard.Config{
			Host:   settings.Dashboard.Host,
			Port:   settings.Dashboard.Port,
			Logger: logger.Logger,
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn("dashboard shutdown failed", "error", err)
			}
		}()
		handler = dashboard.NewHandler(server, logger.Logger)
		fmt.Printf("Dashboard on http://%s (WebSocket: ws://%s/ws)\n", server.GetAddr(), server.GetAddr())
	}

	eng, err := openEngine(ctx, false, func(cfg *engine.Config) {
		cfg.Observers = append(cfg.Observers, engine.ObserverFunc(func(ev engine.Event) {
			fmt.Println(ui.FormatEvent(ev))
		}))
		if handler != nil {
			cfg.Observers = append(cfg.Observers, handler)
		}
		if interactive {
			resolve := func(ctx context.Context, path string, choice resolver.Choice) (resolver.Action, error) {
				return eng.ResolveConflict(ctx, path, choice)
			}
			prompt = ui.NewConflictPrompt(resolve, nil, os.Stdout, logger.Logger)
			cfg.Prompter = prompt
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s Watching %s\n", ui.SuccessStyle.Render("●"), ui.PathStyle.Render(eng.Root()))
	fmt.Println(ui.MutedStyle.Render("Press Ctrl+C to stop"))

	g, gctx := errgroup.WithContext(ctx)
	if prompt != nil {
		g.Go(func() error {
			if err := prompt.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if handler != nil {
		g.Go(func() error {
			refreshStats(gctx, eng, handler, settings.ScanInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err = g.Wait()

	fmt.Println("\nStopping...")
	return errors.Join(err, eng.Stop())
}

// refreshStats pushes folder-wide numbers to the dashboard until ctx ends.
func refreshStats(ctx context.Context, e *engine.Engine, h *dashboard.Handler, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if st, err := e.Status(ctx); err == nil {
			h.UpdateStats(st)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	watchCmd.Flags().Bool("dashboard", false, "serve the WebSocket dashboard")
	watchCmd.Flags().IntP("port", "p", 8080, "dashboard port")
	watchCmd.Flags().Bool("no-prompt", false, "leave conflicts pending instead of asking")
	rootCmd.AddCommand(watchCmd)
}
