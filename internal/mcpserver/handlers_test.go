package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/agentloop/internal/engine"
	"github.com/mark3labs/agentloop/internal/event"
	"github.com/mark3labs/agentloop/internal/journal"
	"github.com/mark3labs/agentloop/internal/policy"
	"github.com/mark3labs/agentloop/internal/provider"
	"github.com/mark3labs/mcp-go/mcp"
)

// setupTestServer creates a server backed by a scripted engine and a journal.
func setupTestServer(t *testing.T, steps ...*provider.ScriptStep) (*Server, *engine.Engine, *journal.Journal) {
	t.Helper()

	pol, err := policy.New(policy.Config{FileRead: true, MaxTurns: 10, MaxCostUSD: 5.0})
	if err != nil {
		t.Fatalf("failed to build policy: %v", err)
	}

	eng, err := engine.New(engine.Config{
		Session:  "test-session",
		WorkDir:  t.TempDir(),
		Provider: provider.NewScript(steps...),
		Policy:   pol,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	jnl, err := journal.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })

	return New(eng, jnl), eng, jnl
}

// extractText extracts text from CallToolResult.Content[0]
func extractText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	if textContent, ok := result.Content[0].(mcp.TextContent); ok {
		return textContent.Text
	}
	return ""
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestHandleRunStatus(t *testing.T) {
	srv, eng, _ := setupTestServer(t,
		&provider.ScriptStep{Turn: provider.TextTurn("done", 0.25)},
	)

	if _, err := eng.RunSync(context.Background(), "task"); err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}

	result, err := srv.handleRunStatus(context.Background(), callReq("run_status", nil))
	if err != nil {
		t.Fatalf("handleRunStatus failed: %v", err)
	}

	var status map[string]any
	if err := json.Unmarshal([]byte(extractText(result)), &status); err != nil {
		t.Fatalf("failed to parse status JSON: %v", err)
	}

	if status["session"] != "test-session" {
		t.Errorf("session = %v", status["session"])
	}
	if status["state"] != "completed" {
		t.Errorf("state = %v, want completed", status["state"])
	}
	if status["turns"].(float64) != 1 {
		t.Errorf("turns = %v, want 1", status["turns"])
	}
	if status["cost_usd"].(float64) != 0.25 {
		t.Errorf("cost_usd = %v, want 0.25", status["cost_usd"])
	}
}

func TestHandleBudgetStatus(t *testing.T) {
	srv, eng, _ := setupTestServer(t,
		&provider.ScriptStep{Turn: provider.TextTurn("done", 1.0)},
	)

	if _, err := eng.RunSync(context.Background(), "task"); err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}

	result, err := srv.handleBudgetStatus(context.Background(), callReq("budget_status", nil))
	if err != nil {
		t.Fatalf("handleBudgetStatus failed: %v", err)
	}

	var status map[string]any
	if err := json.Unmarshal([]byte(extractText(result)), &status); err != nil {
		t.Fatalf("failed to parse budget JSON: %v", err)
	}

	if status["turns_used"].(float64) != 1 {
		t.Errorf("turns_used = %v", status["turns_used"])
	}
	if status["turns_remaining"].(float64) != 9 {
		t.Errorf("turns_remaining = %v, want 9", status["turns_remaining"])
	}
	if status["cost_remaining"].(float64) != 4.0 {
		t.Errorf("cost_remaining = %v, want 4.0", status["cost_remaining"])
	}
	if status["exhausted"].(bool) {
		t.Error("budget should not be exhausted")
	}
}

func TestHandleRequestStop(t *testing.T) {
	srv, eng, _ := setupTestServer(t,
		&provider.ScriptStep{Turn: provider.TextTurn("never reached", 0.01)},
	)

	result, err := srv.handleRequestStop(context.Background(), callReq("request_stop", nil))
	if err != nil {
		t.Fatalf("handleRequestStop failed: %v", err)
	}
	if !strings.Contains(extractText(result), "Stop requested") {
		t.Errorf("unexpected response: %q", extractText(result))
	}

	// The pending stop is honored before the first turn.
	res, err := eng.RunSync(context.Background(), "task")
	if err != nil {
		t.Fatalf("RunSync failed: %v", err)
	}
	if res.StopReason != engine.StopHookRequested {
		t.Errorf("expected %s, got %s", engine.StopHookRequested, res.StopReason)
	}
}

func TestHandleRunEvents(t *testing.T) {
	srv, _, jnl := setupTestServer(t)

	ctx := context.Background()
	for _, e := range []event.Event{
		{Session: "test-session", Type: event.TypeStart},
		{Session: "test-session", Type: event.TypeTextComplete, Text: "hello"},
		{Session: "test-session", Type: event.TypeStop, Stop: &event.StopPayload{Reason: "complete", Turns: 1}},
	} {
		if err := jnl.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	t.Run("replays all events", func(t *testing.T) {
		result, err := srv.handleRunEvents(ctx, callReq("run_events", nil))
		if err != nil {
			t.Fatalf("handleRunEvents failed: %v", err)
		}

		var events []event.Event
		if err := json.Unmarshal([]byte(extractText(result)), &events); err != nil {
			t.Fatalf("failed to parse events JSON: %v", err)
		}
		if len(events) != 3 {
			t.Errorf("got %d events, want 3", len(events))
		}
	})

	t.Run("limit keeps newest", func(t *testing.T) {
		result, err := srv.handleRunEvents(ctx, callReq("run_events", map[string]any{"limit": float64(1)}))
		if err != nil {
			t.Fatalf("handleRunEvents failed: %v", err)
		}

		var events []event.Event
		if err := json.Unmarshal([]byte(extractText(result)), &events); err != nil {
			t.Fatalf("failed to parse events JSON: %v", err)
		}
		if len(events) != 1 || events[0].Type != event.TypeStop {
			t.Errorf("expected just the stop event, got %+v", events)
		}
	})

	t.Run("unknown session reports empty", func(t *testing.T) {
		result, err := srv.handleRunEvents(ctx, callReq("run_events", map[string]any{"session": "nope"}))
		if err != nil {
			t.Fatalf("handleRunEvents failed: %v", err)
		}
		if !strings.Contains(extractText(result), "No events") {
			t.Errorf("unexpected response: %q", extractText(result))
		}
	})
}

func TestServerStartStop(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	port, err := srv.Start(context.Background(), 0)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if port == 0 {
		t.Error("expected a non-zero port")
	}
	if !strings.Contains(srv.URL(), "/mcp") {
		t.Errorf("URL = %q", srv.URL())
	}

	if _, err := srv.Start(context.Background(), 0); err == nil {
		t.Error("second Start should fail")
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop should be idempotent: %v", err)
	}
}
