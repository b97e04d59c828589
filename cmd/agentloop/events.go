package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/agentloop/internal/event"
	"github.com/mark3labs/agentloop/internal/journal"
	"github.com/spf13/cobra"
)

var eventsFlags struct {
	dataDir string
	jsonOut bool
}

var eventsCmd = &cobra.Command{
	Use:   "events <session>",
	Short: "Dump a session's journaled events",
	Long: `Dump every event journaled for a session in order. Use --json for
one JSON object per line, suitable for piping into jq.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsFlags.dataDir, "data-dir", "", "Data directory for journal storage")
	eventsCmd.Flags().BoolVar(&eventsFlags.jsonOut, "json", false, "Emit events as JSON lines")
}

func runEvents(cmd *cobra.Command, args []string) error {
	session := args[0]

	dataDir, err := resolveDataDir(eventsFlags.dataDir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	jnl, err := journal.Open(ctx, dataDir)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer jnl.Close()

	events, err := jnl.Events(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	if len(events) == 0 {
		fmt.Printf("No events recorded for session %s.\n", session)
		return nil
	}

	if eventsFlags.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
		}
		return nil
	}

	for _, e := range events {
		fmt.Printf("%s  %-14s %s\n", e.Timestamp.Format("15:04:05.000"), e.Type, eventDetail(e))
	}
	return nil
}

// eventDetail renders the payload field matching the event type.
func eventDetail(e event.Event) string {
	switch e.Type {
	case event.TypeTextChunk, event.TypeTextComplete:
		return e.Text
	case event.TypeWarning:
		return e.Warning
	case event.TypeToolStart:
		return e.Tool.Name
	case event.TypeToolEnd:
		switch {
		case e.Tool.Denied:
			return fmt.Sprintf("%s denied: %s", e.Tool.Name, e.Tool.DenyReason)
		case e.Tool.Error != "":
			return fmt.Sprintf("%s failed: %s", e.Tool.Name, e.Tool.Error)
		default:
			return fmt.Sprintf("%s ok", e.Tool.Name)
		}
	case event.TypeTurnComplete:
		return fmt.Sprintf("turn %d, $%.4f total", e.Turn.Number, e.Turn.CostUSD)
	case event.TypeStop:
		return fmt.Sprintf("%s after %d turns, $%.4f", e.Stop.Reason, e.Stop.Turns, e.Stop.CostUSD)
	default:
		return ""
	}
}
