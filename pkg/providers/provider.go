// Package providers defines the CommandExecutor interface used by asserters
// to touch the host, and the Privilege context each assertion runs under.
package providers

import (
	"context"
	"time"
)

// CommandResult holds the output of a single command execution.
type CommandResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// CommandExecutor abstracts real vs recorded command execution.
// Implementations: RealExecutor, and fakes in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, args []string, env []string, priv Privilege) (*CommandResult, error)
}
