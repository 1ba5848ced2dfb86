// Package connectors defines how tools reach outside the process to run commands.
package connectors

import (
	"context"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	Dir       string        `json:"dir,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Connector executes allowlisted commands.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs cmd with args in dir and returns the result.
	// A non-zero exit code is reported in the result, not as an error.
	Execute(ctx context.Context, dir, cmd string, args []string) (*ExecResult, error)

	// IsAllowed checks if a command is allowed to execute.
	IsAllowed(cmd string, args []string) bool
}
