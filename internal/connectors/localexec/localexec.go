// Package localexec provides a local command executor with an allowlist.
package localexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/connectors"
)

// Wildcard allows any subcommand (or none) for a command.
const Wildcard = "*"

// DefaultMaxOutput caps captured stdout and stderr, each.
const DefaultMaxOutput = 64 * 1024

// ErrNotAllowed is returned for commands outside the allowlist.
var ErrNotAllowed = errors.New("command not allowed")

// DefaultAllowlist returns the allowlist used when none is configured.
func DefaultAllowlist() map[string][]string {
	return map[string][]string{
		"go":  {"test", "vet", "build"},
		"git": {"diff", "status", "log"},
		"ls":  {Wildcard},
		"cat": {Wildcard},
	}
}

// LocalExec implements connectors.Connector for local command execution.
type LocalExec struct {
	allowed   map[string][]string
	maxOutput int
}

var _ connectors.Connector = (*LocalExec)(nil)

// New creates a LocalExec connector. A nil allowlist means DefaultAllowlist.
func New(allowed map[string][]string) *LocalExec {
	if allowed == nil {
		allowed = DefaultAllowlist()
	}
	return &LocalExec{allowed: allowed, maxOutput: DefaultMaxOutput}
}

// WithMaxOutput sets the per-stream output cap.
func (l *LocalExec) WithMaxOutput(n int) *LocalExec {
	if n > 0 {
		l.maxOutput = n
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := l.allowed[cmd]
	if !ok {
		return false
	}

	for _, allowed := range allowedSubcmds {
		if allowed == Wildcard {
			return true
		}
	}

	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	for _, allowed := range allowedSubcmds {
		if subcmd == allowed {
			return true
		}
	}
	return false
}

// Execute runs a command in dir if it's in the allowlist.
func (l *LocalExec) Execute(ctx context.Context, dir, cmd string, args []string) (*connectors.ExecResult, error) {
	if !l.IsAllowed(cmd, args) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotAllowed, cmd, strings.Join(args, " "))
	}

	execCmd := exec.CommandContext(ctx, cmd, args...)
	if dir != "" {
		execCmd.Dir = dir
	}

	stdout := &cappedBuffer{max: l.maxOutput}
	stderr := &cappedBuffer{max: l.maxOutput}
	execCmd.Stdout = stdout
	execCmd.Stderr = stderr

	start := time.Now()
	err := execCmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:   cmd,
		Args:      args,
		Dir:       dir,
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  elapsed,
	}, nil
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = len(p) > 0 || c.truncated
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
