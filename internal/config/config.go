// Package config loads notesync settings.
//
// Settings come from, in increasing precedence: built-in defaults, the user
// config file (notesync.yaml or notesync.toml under the user config
// directory, or --config), NOTESYNC_* environment variables, command-line
// flags bound by the CLI, and finally the note folder's own .notesync.toml.
//
// Environment variables use underscores for nesting:
//
//	NOTESYNC_FOLDER=~/notes
//	NOTESYNC_REMOTE_URL=https://notes.example.com
//	NOTESYNC_LOG_LEVEL=debug
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/notesync/internal/engine"
	"github.com/mschirtzinger/notesync/internal/note"
	"github.com/mschirtzinger/notesync/internal/remote"
	"github.com/mschirtzinger/notesync/internal/resolver"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "NOTESYNC"

// Settings is the merged configuration.
type Settings struct {
	Folder               string        `mapstructure:"folder"`
	CachePath            string        `mapstructure:"cache_path"`
	Memory               bool          `mapstructure:"memory"`
	ScanInterval         time.Duration `mapstructure:"scan_interval"`
	RenameWindow         time.Duration `mapstructure:"rename_window"`
	Debounce             time.Duration `mapstructure:"debounce"`
	ScanOnly             bool          `mapstructure:"scan_only"`
	RetentionDays        int           `mapstructure:"retention_days"`
	PurgeInterval        time.Duration `mapstructure:"purge_interval"`
	VersionRetentionDays int           `mapstructure:"version_retention_days"`
	Snapshots            bool          `mapstructure:"snapshots"`
	LineEndings          string        `mapstructure:"line_endings"`
	Extensions           []string      `mapstructure:"extensions"`
	Subfolders           bool          `mapstructure:"subfolders"`
	ConflictPolicy       string        `mapstructure:"conflict_policy"`

	Remote    RemoteSettings    `mapstructure:"remote"`
	Log       LogSettings       `mapstructure:"log"`
	Dashboard DashboardSettings `mapstructure:"dashboard"`
}

// RemoteSettings configures the optional note server.
type RemoteSettings struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LogSettings configures logging.
type LogSettings struct {
	File   string `mapstructure:"file"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardSettings configures the WebSocket dashboard.
type DashboardSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := engine.DefaultConfig("")
	v.SetDefault("folder", "")
	v.SetDefault("cache_path", "")
	v.SetDefault("memory", false)
	v.SetDefault("scan_interval", d.ScanInterval)
	v.SetDefault("rename_window", d.RenameWindow)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("scan_only", false)
	v.SetDefault("retention_days", d.RetentionDays)
	v.SetDefault("purge_interval", d.PurgeInterval)
	v.SetDefault("version_retention_days", 0)
	v.SetDefault("snapshots", d.Snapshots)
	v.SetDefault("line_endings", string(note.LineEndingNative))
	v.SetDefault("extensions", []string{})
	v.SetDefault("subfolders", d.Subfolders)
	v.SetDefault("conflict_policy", resolver.PolicyPrompt.String())
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.username", "")
	v.SetDefault("remote.password", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8080)
}

// New returns a viper instance with defaults and environment binding set
// up. configFile, when not empty, is the only file read; otherwise
// notesync.{yaml,toml} is looked up in DefaultDir.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("notesync")
		if dir := DefaultDir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}
	return v
}

// DefaultDir is $XDG_CONFIG_HOME/notesync or its platform equivalent.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "notesync")
}

// Load reads the config file, if any, and decodes the settings. A missing
// default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if s.Folder != "" {
		s.Folder = expandHome(s.Folder)
	}
	if s.CachePath != "" {
		s.CachePath = expandHome(s.CachePath)
	}
	if s.Log.File != "" {
		s.Log.File = expandHome(s.Log.File)
	}
	return &s, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks values that cannot be decoded into an engine config.
func (s *Settings) Validate() error {
	var errs []error
	if s.Folder == "" {
		errs = append(errs, errors.New("folder is required (set --folder, NOTESYNC_FOLDER or folder in the config file)"))
	}
	if _, err := note.ParseLineEnding(s.LineEndings); err != nil {
		errs = append(errs, err)
	}
	if _, err := resolver.ParsePolicy(s.ConflictPolicy); err != nil {
		errs = append(errs, err)
	}
	if s.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention_days cannot be negative"))
	}
	return errors.Join(errs...)
}

// Engine converts the settings into an engine configuration.
func (s *Settings) Engine(logger *slog.Logger) (engine.Config, error) {
	if err := s.Validate(); err != nil {
		return engine.Config{}, err
	}
	le, _ := note.ParseLineEnding(s.LineEndings)
	policy, _ := resolver.ParsePolicy(s.ConflictPolicy)

	cfg := engine.DefaultConfig(s.Folder)
	cfg.CachePath = s.CachePath
	cfg.Memory = s.Memory
	cfg.Extensions = note.NewExtensions(s.Extensions...)
	cfg.Subfolders = s.Subfolders
	cfg.ScanOnly = s.ScanOnly
	cfg.LineEnding = le
	cfg.RetentionDays = s.RetentionDays
	cfg.VersionRetentionDays = s.VersionRetentionDays
	cfg.Snapshots = s.Snapshots
	cfg.ConflictPolicy = policy
	cfg.Logger = logger
	if s.ScanInterval > 0 {
		cfg.ScanInterval = s.ScanInterval
	}
	if s.RenameWindow > 0 {
		cfg.RenameWindow = s.RenameWindow
	}
	if s.Debounce > 0 {
		cfg.Debounce = s.Debounce
	}
	if s.PurgeInterval > 0 {
		cfg.PurgeInterval = s.PurgeInterval
	}
	cfg.Remote = remote.ClientConfig{
		URL:      s.Remote.URL,
		Username: s.Remote.Username,
		Password: s.Remote.Password,
		Token:    s.Remote.Token,
		Timeout:  s.Remote.Timeout,
		Logger:   logger,
	}
	return cfg, nil
}
