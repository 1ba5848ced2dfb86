// Package scheduler starts pending tasks under concurrency limits.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// Enabled toggles automatic dispatch of pending tasks.
	Enabled bool `yaml:"enabled"`
	// GlobalMax is the maximum number of concurrently active tasks.
	GlobalMax int `yaml:"global_max"`
	// PerWorkspace is the default concurrency limit for one workspace.
	PerWorkspace int `yaml:"per_workspace"`
	// ByWorkspace overrides PerWorkspace for specific workspace ids.
	ByWorkspace map[string]int `yaml:"by_workspace,omitempty"`
	// PollInterval is how often the store is polled for pending tasks.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		GlobalMax:    10,
		PerWorkspace: 2,
		PollInterval: time.Second,
	}
}

// GetWorkspaceLimit returns the concurrency limit for a workspace.
func (c *Config) GetWorkspaceLimit(workspaceID string) int {
	if limit, ok := c.ByWorkspace[workspaceID]; ok {
		return limit
	}
	if c.PerWorkspace > 0 {
		return c.PerWorkspace
	}
	// Default limit if not specified
	return 1
}
