package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/agentloop/internal/event"
	"github.com/mark3labs/agentloop/internal/policy"
	"github.com/mark3labs/agentloop/internal/provider"
)

func TestStallDetector(t *testing.T) {
	t.Run("identical turns trigger warning", func(t *testing.T) {
		d := newStallDetector(2)
		if d.Observe("I am thinking", false) {
			t.Error("first turn alone should not stall")
		}
		if !d.Observe("I am thinking", false) {
			t.Error("two identical turns without tool calls should stall")
		}
	})

	t.Run("whitespace differences are normalized", func(t *testing.T) {
		d := newStallDetector(2)
		d.Observe("same output", false)
		if !d.Observe("  same output\n", false) {
			t.Error("trailing whitespace should not defeat detection")
		}
	})

	t.Run("different turns do not stall", func(t *testing.T) {
		d := newStallDetector(2)
		d.Observe("working on step one", false)
		if d.Observe("working on step two", false) {
			t.Error("distinct outputs should not stall")
		}
	})

	t.Run("tool call resets the window", func(t *testing.T) {
		d := newStallDetector(2)
		d.Observe("same", false)
		if d.Observe("same", true) {
			t.Error("a turn with a tool call is progress")
		}
		if d.Observe("same", false) {
			t.Error("window should have been reset by the tool call")
		}
	})

	t.Run("empty turns never stall", func(t *testing.T) {
		d := newStallDetector(2)
		d.Observe("", false)
		if d.Observe("", false) {
			t.Error("empty output should not be flagged as a stall")
		}
	})

	t.Run("wider window requires more repeats", func(t *testing.T) {
		d := newStallDetector(3)
		d.Observe("loop", false)
		if d.Observe("loop", false) {
			t.Error("two repeats should not satisfy a window of three")
		}
		if !d.Observe("loop", false) {
			t.Error("three repeats should stall")
		}
	})

	t.Run("window below minimum is clamped", func(t *testing.T) {
		d := newStallDetector(0)
		if d.Window() != defaultStallWindow {
			t.Errorf("expected window %d, got %d", defaultStallWindow, d.Window())
		}
	})
}

func TestStallWarningSpansRuns(t *testing.T) {
	// The detector lives for the instance, so identical answers across two
	// runs are flagged during the second.
	prov := provider.NewScript(
		&provider.ScriptStep{Turn: provider.TextTurn("no further progress", 0.01)},
		&provider.ScriptStep{Turn: provider.TextTurn("no further progress", 0.01)},
	)
	e := newTestEngine(t, prov, mustPolicy(t, policy.Config{}), nil, nil)

	if _, err := e.RunSync(context.Background(), "task"); err != nil {
		t.Fatalf("first RunSync failed: %v", err)
	}
	res, err := e.RunSync(context.Background(), "task again")
	if err != nil {
		t.Fatalf("second RunSync failed: %v", err)
	}

	warning := findEvent(res.Events, event.TypeWarning)
	if warning == nil || !strings.Contains(warning.Warning, "stall") {
		t.Errorf("expected a stall warning in the second run, got %+v", warning)
	}
}

