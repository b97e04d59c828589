package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the run inspection tools with the MCP server.
func (s *Server) registerTools() error {
	s.mcpServer.AddTool(
		mcp.NewTool("run_status",
			mcp.WithDescription("Get the current state of the run: lifecycle state, turns used, and cost so far"),
		),
		s.handleRunStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("run_events",
			mcp.WithDescription("Replay the journaled events of a run as JSON"),
			mcp.WithString("session",
				mcp.Description("Session name to replay (defaults to the current run's session)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of events to return, newest last (default: all)"),
			),
		),
		s.handleRunEvents,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("budget_status",
			mcp.WithDescription("Get budget headroom: turns and cost used against their configured ceilings"),
		),
		s.handleBudgetStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("request_stop",
			mcp.WithDescription("Ask the run to stop cooperatively at the next safe point"),
		),
		s.handleRequestStop,
	)

	return nil
}

// handleRunStatus reports the engine's lifecycle state and totals.
func (s *Server) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := map[string]any{
		"session":  s.eng.Session(),
		"state":    string(s.eng.State()),
		"turns":    s.eng.Turns(),
		"cost_usd": s.eng.Cost(),
	}
	if errs := s.eng.HookErrors(); len(errs) > 0 {
		status["hook_errors"] = len(errs)
	}

	output, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(output)), nil
}

// handleRunEvents replays journaled events for a session.
func (s *Server) handleRunEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.jnl == nil {
		return mcp.NewToolResultError("no journal attached, event replay unavailable"), nil
	}

	session := s.eng.Session()
	args := request.GetArguments()
	if args != nil {
		if v, ok := args["session"].(string); ok && v != "" {
			session = v
		}
	}

	events, err := s.jnl.Events(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to replay events: %v", err)), nil
	}

	// Limit keeps the newest events (JSON numbers come as float64)
	if args != nil {
		if v, ok := args["limit"].(float64); ok && v > 0 && int(v) < len(events) {
			events = events[len(events)-int(v):]
		}
	}

	if len(events) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No events for session %q", session)), nil
	}

	output, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal events: %v", err)), nil
	}
	return mcp.NewToolResultText(string(output)), nil
}

// handleBudgetStatus reports headroom against the configured ceilings.
func (s *Server) handleBudgetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b := s.eng.Budget()

	status := map[string]any{
		"turns_used": b.TurnsUsed(),
		"cost_used":  b.CostUsed(),
		"exhausted":  b.Exhausted(),
	}
	if b.MaxTurns() > 0 {
		status["max_turns"] = b.MaxTurns()
		status["turns_remaining"] = b.MaxTurns() - b.TurnsUsed()
	}
	if b.MaxCostUSD() > 0 {
		status["max_cost_usd"] = b.MaxCostUSD()
		status["cost_remaining"] = b.MaxCostUSD() - b.CostUsed()
	}

	output, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal budget: %v", err)), nil
	}
	return mcp.NewToolResultText(string(output)), nil
}

// handleRequestStop flags the engine to stop at the next iteration boundary.
func (s *Server) handleRequestStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.eng.RequestStop()
	return mcp.NewToolResultText("Stop requested; the run will end at the next safe point"), nil
}
