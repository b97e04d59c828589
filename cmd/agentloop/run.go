package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gosimple/slug"
	"github.com/mark3labs/agentloop/internal/config"
	"github.com/mark3labs/agentloop/internal/engine"
	ierr "github.com/mark3labs/agentloop/internal/errors"
	"github.com/mark3labs/agentloop/internal/event"
	"github.com/mark3labs/agentloop/internal/hook"
	"github.com/mark3labs/agentloop/internal/journal"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/mark3labs/agentloop/internal/mcpserver"
	"github.com/mark3labs/agentloop/internal/policy"
	"github.com/mark3labs/agentloop/internal/provider"
	"github.com/spf13/cobra"
)

var runFlags struct {
	name      string
	command   string
	model     string
	dataDir   string
	maxTurns  int
	maxCost   float64
	mode      string
	allow     []string
	deny      []string
	serve     bool
	noPartial bool
}

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run an agent task in the governed loop",
	Long: `Run an agent task in the governed loop.

The task is given as an argument or piped on stdin. The agent CLI configured
via --command runs one subprocess per turn; tool calls it requests are checked
against the permission policy, surrounded by hooks from .agentloop.hooks.yml,
and counted against the turn and cost budgets. Progress events stream to
stdout and are journaled under the session name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.name, "name", "n", "", "Session name (default: derived from the task)")
	runCmd.Flags().StringVarP(&runFlags.command, "command", "c", "", "Agent CLI command (e.g. opencode)")
	runCmd.Flags().StringVarP(&runFlags.model, "model", "m", "", "Model to use (e.g., anthropic/claude-sonnet-4-5, openai/gpt-4)")
	runCmd.Flags().StringVar(&runFlags.dataDir, "data-dir", "", "Data directory for journal storage")
	runCmd.Flags().IntVar(&runFlags.maxTurns, "max-turns", 0, "Turn budget, 0=unlimited")
	runCmd.Flags().Float64Var(&runFlags.maxCost, "max-cost", 0, "Cost budget in USD, 0=unlimited")
	runCmd.Flags().StringVar(&runFlags.mode, "permission-mode", "", "Permission mode: default, read_only, bypass_all")
	runCmd.Flags().StringSliceVar(&runFlags.allow, "allow-tool", nil, "Add a tool to the allow-list (repeatable)")
	runCmd.Flags().StringSliceVar(&runFlags.deny, "deny-tool", nil, "Add a tool to the deny-list (repeatable)")
	runCmd.Flags().BoolVar(&runFlags.serve, "serve", false, "Expose the MCP inspection server on a loopback port")
	runCmd.Flags().BoolVar(&runFlags.noPartial, "no-partial", false, "Print complete turn texts only, no streaming chunks")
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	task, err := readTask(args)
	if err != nil {
		return err
	}

	// Cleanup errors from the defers below are collected so every component
	// gets its shutdown; they surface only when the run itself succeeded.
	var shutdownErrs ierr.MultiError
	defer func() {
		if cleanup := shutdownErrs.ErrorOrNil(); cleanup != nil {
			if err == nil {
				err = fmt.Errorf("shutdown: %w", cleanup)
			} else {
				fmt.Fprintf(os.Stderr, "Shutdown errors: %v\n", cleanup)
			}
		}
	}()

	// Load config via Viper, then let changed flags win
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyRunFlags(cmd, cfg)
	if err := logger.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("invalid log config: %w", err)
	}

	if cfg.Command == "" {
		return fmt.Errorf("agent command not configured\n\nSet command via:\n  - agentloop setup (creates config file)\n  - AGENTLOOP_COMMAND environment variable\n  - --command flag")
	}

	sessionName, err := resolveSessionName(runFlags.name, task)
	if err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	pol, err := policy.New(policy.Config{
		Mode:            policy.Mode(cfg.PermissionMode),
		AllowedTools:    cfg.AllowedTools,
		DisallowedTools: cfg.DisallowedTools,
		FileRead:        cfg.FileRead,
		FileWrite:       cfg.FileWrite,
		Shell:           cfg.Shell,
		CodeExec:        cfg.CodeExec,
		Web:             cfg.Web,
		PackageInstall:  cfg.PackageInstall,
		MaxTurns:        cfg.MaxTurns,
		MaxCostUSD:      cfg.MaxCostUSD,
	})
	if err != nil {
		return fmt.Errorf("invalid permission config: %w", err)
	}

	hooks := hook.NewPipeline()
	hcfg, err := hook.LoadConfig(wd)
	if err != nil {
		return fmt.Errorf("failed to load hooks config: %w", err)
	}
	if hcfg != nil {
		if err := hook.RegisterCommands(hooks, hcfg, wd); err != nil {
			return fmt.Errorf("failed to register command hooks: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jnl, err := journal.Open(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { shutdownErrs.Append(jnl.Close()) }()

	prov, err := provider.NewCLI(provider.CLIConfig{
		Command: cfg.Command,
		Model:   cfg.Model,
		WorkDir: wd,
	})
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Session:        sessionName,
		WorkDir:        wd,
		Provider:       prov,
		Policy:         pol,
		Hooks:          hooks,
		IncludePartial: cfg.IncludePartial,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if runFlags.serve || cfg.ServePort != 0 {
		srv := mcpserver.New(eng, jnl)
		port, err := srv.Start(ctx, cfg.ServePort)
		if err != nil {
			return fmt.Errorf("failed to start MCP server: %w", err)
		}
		defer func() { shutdownErrs.Append(srv.Stop()) }()
		fmt.Printf("MCP inspection server: http://127.0.0.1:%d/mcp\n", port)
	}

	// Setup signal handling for graceful shutdown. The loop observes the
	// cancelled context at the next turn boundary and still fires the
	// Stop and SessionEnd hooks.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	events, err := eng.Run(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	// Tee events to the journal while printing them
	jch := make(chan event.Event, event.DefaultBuffer)
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		jnl.Record(context.Background(), jch)
	}()

	printer := eventPrinter{partial: cfg.IncludePartial}
	var stop *event.StopPayload
	for e := range events {
		printer.print(e)
		jch <- e
		if e.Type == event.TypeStop {
			stop = e.Stop
		}
	}
	close(jch)
	<-recorded

	if stop != nil {
		fmt.Printf("\nSession %s stopped: %s (%d turns, $%.4f, %s)\n",
			sessionName, stop.Reason, stop.Turns, stop.CostUSD, stop.Duration.Round(time.Millisecond))
		if stop.Reason == string(engine.StopError) {
			return fmt.Errorf("run ended with an error, see events above")
		}
	}
	return nil
}

// readTask takes the task from the argument or, when absent, from piped stdin.
func readTask(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read task from stdin: %w", err)
		}
		if task := strings.TrimSpace(string(data)); task != "" {
			return task, nil
		}
	}
	return "", fmt.Errorf("no task given, pass it as an argument or pipe it on stdin")
}

// applyRunFlags overlays flags the user actually set onto the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("command") {
		cfg.Command = runFlags.command
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = runFlags.model
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = runFlags.dataDir
	}
	if cmd.Flags().Changed("max-turns") {
		cfg.MaxTurns = runFlags.maxTurns
	}
	if cmd.Flags().Changed("max-cost") {
		cfg.MaxCostUSD = runFlags.maxCost
	}
	if cmd.Flags().Changed("permission-mode") {
		cfg.PermissionMode = runFlags.mode
	}
	if cmd.Flags().Changed("allow-tool") {
		cfg.AllowedTools = runFlags.allow
	}
	if cmd.Flags().Changed("deny-tool") {
		cfg.DisallowedTools = runFlags.deny
	}
	if cmd.Flags().Changed("no-partial") {
		cfg.IncludePartial = !runFlags.noPartial
	}
}

// resolveSessionName validates an explicit name or derives one from the task.
func resolveSessionName(name, task string) (string, error) {
	if name == "" {
		name = slug.Make(task)
		if len(name) > 48 {
			name = strings.Trim(name[:48], "-")
		}
		if name == "" {
			name = "run"
		}
	}
	if len(name) > 64 {
		return "", fmt.Errorf("session name too long (max 64 characters): %s", name)
	}
	// NATS subject constraint: alphanumeric, hyphens, underscores only
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_') {
			return "", fmt.Errorf("invalid session name: %s (use only alphanumeric, hyphens, underscores)", name)
		}
	}
	return name, nil
}

// eventPrinter renders progress events for the terminal.
type eventPrinter struct {
	partial bool
}

func (p eventPrinter) print(e event.Event) {
	switch e.Type {
	case event.TypeStart:
		fmt.Printf("Session %s started\n", e.Session)
	case event.TypeTextChunk:
		fmt.Print(e.Text)
	case event.TypeTextComplete:
		if p.partial {
			// Chunks already streamed the text
			fmt.Println()
		} else {
			fmt.Println(e.Text)
		}
	case event.TypeToolStart:
		fmt.Printf("[tool] %s\n", e.Tool.Name)
	case event.TypeToolEnd:
		switch {
		case e.Tool.Denied:
			fmt.Printf("[tool] %s denied: %s\n", e.Tool.Name, e.Tool.DenyReason)
		case e.Tool.Error != "":
			fmt.Printf("[tool] %s failed: %s\n", e.Tool.Name, e.Tool.Error)
		default:
			fmt.Printf("[tool] %s ok\n", e.Tool.Name)
		}
	case event.TypeTurnComplete:
		fmt.Printf("[turn %d] $%.4f total\n", e.Turn.Number, e.Turn.CostUSD)
	case event.TypeWarning:
		fmt.Fprintf(os.Stderr, "Warning: %s\n", e.Warning)
	}
}
