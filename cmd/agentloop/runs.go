package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/mark3labs/agentloop/internal/config"
	"github.com/mark3labs/agentloop/internal/journal"
	"github.com/spf13/cobra"
)

var runsFlags struct {
	dataDir string
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled sessions",
	Long: `List every session recorded in the journal, newest first, with turn
and tool-call counts, accumulated cost, and the stop reason if the run ended.`,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsFlags.dataDir, "data-dir", "", "Data directory for journal storage")
}

func runRuns(cmd *cobra.Command, args []string) error {
	dataDir, err := resolveDataDir(runsFlags.dataDir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	jnl, err := journal.Open(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer jnl.Close()

	infos, err := jnl.Runs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tTURNS\tTOOLS\tCOST\tSTOP REASON")
	for _, r := range infos {
		reason := r.StopReason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\t%s\n",
			r.Session, r.Started.Format("2006-01-02 15:04:05"), r.Turns, r.ToolCalls, r.CostUSD, reason)
	}
	return w.Flush()
}

// resolveDataDir prefers an explicit flag over the configured directory.
func resolveDataDir(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.DataDir, nil
}
