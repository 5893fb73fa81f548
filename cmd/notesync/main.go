// Command notesync keeps a folder of plain-text notes and its metadata cache
// consistent, resolves edit conflicts and manages the local and server
// trash.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/notesync/internal/config"
	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/logging"
	"github.com/mschirtzinger/notesync/internal/ui"
)

var (
	configFile string
	noColor    bool
	settings   *config.Settings
	logger     *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "notesync",
	Short: "Sync engine for a folder of plain-text notes",
	Long: `notesync watches a folder of plain-text notes, keeps a metadata cache of
them (tags, trash, versions) and detects when a note open for editing is
changed by another program.

Settings are read from notesync.yaml in the user config directory, NOTESYNC_*
environment variables, the flags below and the folder's own .notesync.toml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func init() {
	// Assigned here rather than in the literal: loadSettings refers back to
	// rootCmd, which would otherwise be an initialization cycle.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}
		return loadSettings()
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "notes", Title: "Notes:"},
		&cobra.Group{ID: "trash", Title: "Trash and history:"},
		&cobra.Group{ID: "remote", Title: "Note server:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: notesync.yaml in the user config directory)")
	flags.StringP("folder", "f", "", "note folder")
	flags.Bool("memory", false, "keep the cache in memory for this run only")
	flags.String("cache", "", "cache database path (default: <folder>/.notesync/cache.db)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-file", "", "also write logs to this rotating file")
	flags.String("log-format", "", "log format: text or json")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}

// flagKeys maps persistent flags to their configuration keys.
var flagKeys = map[string]string{
	"folder":     "folder",
	"memory":     "memory",
	"cache":      "cache_path",
	"log-level":  "log.level",
	"log-file":   "log.file",
	"log-format": "log.format",
}

func loadSettings() error {
	v := config.New(configFile)
	if err := bindFlags(v); err != nil {
		return err
	}
	s, err := config.Load(v)
	if err != nil {
		return err
	}
	if _, err := s.ApplyFolder(); err != nil {
		return err
	}
	l, err := logging.New(logging.Options{
		Level:  s.Log.Level,
		Format: s.Log.Format,
		File:   s.Log.File,
	})
	if err != nil {
		return err
	}
	settings, logger = s, l
	return nil
}

func bindFlags(v *viper.Viper) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// openEngine starts an engine over the configured folder. Passive engines
// neither watch nor purge; short commands use them.
func openEngine(ctx context.Context, passive bool, configure func(*engine.Config)) (*engine.Engine, error) {
	cfg, err := settings.Engine(logger.Logger)
	if err != nil {
		return nil, err
	}
	cfg.Passive = passive
	cfg.Observers = append(cfg.Observers, engine.ObserverFunc(warnObserver))
	if configure != nil {
		configure(&cfg)
	}
	e, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// withEngine runs fn against a passive engine. With scan set the cache is
// brought up to date first.
func withEngine(ctx context.Context, scan bool, fn func(ctx context.Context, e *engine.Engine) error) error {
	e, err := openEngine(ctx, true, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Stop(); err != nil {
			logger.Warn("engine stop failed", "error", err)
		}
	}()
	if scan {
		if _, err := e.Scan(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, e)
}

// warnObserver surfaces degraded mode and background errors on stderr.
func warnObserver(ev engine.Event) {
	switch ev.Type {
	case engine.EventDegraded, engine.EventError:
		fmt.Fprintln(os.Stderr, ui.FormatEvent(ev))
	}
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("Error: ")+err.Error())
	if step := engine.NextStep(err); step != "" {
		fmt.Fprintln(os.Stderr, ui.MutedStyle.Render(step))
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}
