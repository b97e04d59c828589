package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/spf13/cobra"
)

// Version set via ldflags during build
var version = "dev"

func main() {
	// Ensure logger is closed on exit
	defer func() { _ = logger.Close() }()

	if err := fang.Execute(context.Background(), rootCmd, fang.WithVersion(version)); err != nil {
		logger.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentloop",
	Short: "Governed multi-turn execution loop for AI agent CLIs",
}

func init() {
	rootCmd.Long = `agentloop drives an external AI agent CLI through a governed multi-turn loop.
Every tool call passes a permission gate, lifecycle hooks fire around each
phase, turn and cost budgets are enforced, and typed progress events are
journaled to embedded NATS JetStream for later inspection.

Configuration is loaded from multiple sources with the following precedence:
  CLI flags > Environment variables > Project config > Global config > Defaults

Project config: ./agentloop.yml
Global config: ~/.config/agentloop/agentloop.yml`

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(setupCmd)
}
