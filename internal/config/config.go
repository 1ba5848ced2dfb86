// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/connectors/localexec"
	"github.com/mesutfelat/cowork-oss-sub009/internal/dedup"
	"github.com/mesutfelat/cowork-oss-sub009/internal/filetracker"
	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// DirName is the per-user state directory under the home directory.
const DirName = ".cowork"

// Config is the full daemon configuration.
type Config struct {
	Daemon      DaemonConfig       `yaml:"daemon"`
	Log         logger.Config      `yaml:"log"`
	Approvals   ApprovalsConfig    `yaml:"approvals"`
	Dedup       dedup.Config       `yaml:"dedup"`
	FileTracker filetracker.Config `yaml:"file_tracker"`
	Scheduler   scheduler.Config   `yaml:"scheduler"`
	Tools       ToolsConfig        `yaml:"tools"`
}

// DaemonConfig holds listener and storage settings.
type DaemonConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
}

// ApprovalsConfig holds approval broker settings.
type ApprovalsConfig struct {
	// Timeout is how long an approval waits before it is denied.
	Timeout time.Duration `yaml:"timeout"`
}

// ToolsConfig holds tool execution settings.
type ToolsConfig struct {
	// AllowedCommands maps a command to its allowed subcommands ("*" for any).
	AllowedCommands map[string][]string `yaml:"allowed_commands"`
	// ApprovalRequired lists tools gated behind human approval.
	ApprovalRequired []string `yaml:"approval_required"`
	// MaxSteps bounds planner steps per run.
	MaxSteps int `yaml:"max_steps"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Listen: "127.0.0.1:7466",
			DBPath: filepath.Join(defaultDir(), "cowork.db"),
		},
		Log: logger.Config{
			Level:  "info",
			Format: "console",
		},
		Approvals: ApprovalsConfig{
			Timeout: 5 * time.Minute,
		},
		Dedup:       dedup.DefaultConfig(),
		FileTracker: filetracker.DefaultConfig(),
		Scheduler:   *scheduler.DefaultConfig(),
		Tools: ToolsConfig{
			AllowedCommands:  localexec.DefaultAllowlist(),
			ApprovalRequired: []string{"delete_file", "run_command"},
			MaxSteps:         50,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// yaml.v3 merges into existing maps; a configured allowlist must replace the default.
	cfg.Tools.AllowedCommands = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Tools.AllowedCommands == nil {
		cfg.Tools.AllowedCommands = localexec.DefaultAllowlist()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// DefaultPath returns ~/.cowork/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Daemon.Listen == "" {
		return fmt.Errorf("daemon.listen must be set")
	}
	if c.Daemon.DBPath == "" {
		return fmt.Errorf("daemon.db_path must be set")
	}
	if c.Approvals.Timeout <= 0 {
		return fmt.Errorf("approvals.timeout must be positive")
	}
	if c.Dedup.HistoryDepth < 0 || c.Dedup.MaxKeys < 0 || c.Dedup.MaxEntries < 0 || c.Dedup.TTL < 0 {
		return fmt.Errorf("dedup values must not be negative")
	}
	if c.FileTracker.MaxPaths < 0 || c.FileTracker.RepeatThreshold < 0 || c.FileTracker.TTL < 0 {
		return fmt.Errorf("file_tracker values must not be negative")
	}
	if c.Scheduler.GlobalMax < 1 {
		return fmt.Errorf("scheduler.global_max must be at least 1")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if c.Tools.MaxSteps < 1 {
		return fmt.Errorf("tools.max_steps must be at least 1")
	}

	validFormats := map[string]bool{"": true, "console": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be: console or json", c.Log.Format)
	}

	return nil
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}
