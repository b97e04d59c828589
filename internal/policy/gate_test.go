package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/agentloop/internal/tool"
)

func mustPolicy(t *testing.T, cfg Config) *Policy {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New policy failed: %v", err)
	}
	return p
}

func TestNewPolicyValidation(t *testing.T) {
	t.Run("invalid mode rejected", func(t *testing.T) {
		if _, err := New(Config{Mode: "yolo"}); err == nil {
			t.Error("expected error for invalid mode")
		}
	})

	t.Run("negative ceilings rejected", func(t *testing.T) {
		if _, err := New(Config{MaxTurns: -1}); err == nil {
			t.Error("expected error for negative max turns")
		}
		if _, err := New(Config{MaxCostUSD: -0.5}); err == nil {
			t.Error("expected error for negative max cost")
		}
	})

	t.Run("empty mode defaults", func(t *testing.T) {
		p := mustPolicy(t, Config{})
		if p.Mode() != ModeDefault {
			t.Errorf("expected default mode, got %s", p.Mode())
		}
	})
}

func TestDenyListPrecedence(t *testing.T) {
	// Deny-list wins over allow-list and bypass mode alike.
	configs := []Config{
		{Mode: ModeBypassAll, DisallowedTools: []string{"run_bash"}},
		{Mode: ModeDefault, AllowedTools: []string{"run_bash"}, DisallowedTools: []string{"run_bash"}, Shell: true},
	}

	for _, cfg := range configs {
		g := NewGate(mustPolicy(t, cfg))
		res := g.Check("run_bash", nil, Context{})
		if res.Allowed {
			t.Errorf("expected deny for deny-listed tool under mode %s", cfg.Mode)
		}
		if !strings.Contains(res.Reason, "deny-list") {
			t.Errorf("expected deny-list reason, got %q", res.Reason)
		}
	}
}

func TestDenyListMatchesAliases(t *testing.T) {
	g := NewGate(mustPolicy(t, Config{Mode: ModeBypassAll, DisallowedTools: []string{"Run_Bash"}}))

	for _, alias := range []string{"run_bash", "RUN_BASH", "mcp__sandbox__run_bash"} {
		if res := g.Check(alias, nil, Context{}); res.Allowed {
			t.Errorf("expected deny for alias %q", alias)
		}
	}
}

func TestPermissionPromptToolBeatsDenyList(t *testing.T) {
	// Deliberately preserved precedence: the permission-prompt tool stays
	// allowed even when explicitly deny-listed.
	g := NewGate(mustPolicy(t, Config{DisallowedTools: []string{PermissionPromptTool}}))

	res := g.Check(PermissionPromptTool, nil, Context{})
	if !res.Allowed {
		t.Errorf("expected permission prompt tool to be allowed, got deny: %s", res.Reason)
	}
}

func TestBypassAllAllowsEverything(t *testing.T) {
	g := NewGate(mustPolicy(t, Config{Mode: ModeBypassAll}))

	for _, name := range []string{"write_file", "run_bash", "made_up_tool"} {
		if res := g.Check(name, nil, Context{}); !res.Allowed {
			t.Errorf("expected allow for %q in bypass mode, got %q", name, res.Reason)
		}
	}
}

func TestAllowList(t *testing.T) {
	g := NewGate(mustPolicy(t, Config{AllowedTools: []string{"read_file"}, FileRead: true}))

	if res := g.Check("read_file", nil, Context{}); !res.Allowed {
		t.Errorf("expected allow for listed tool, got %q", res.Reason)
	}
	if res := g.Check("write_file", nil, Context{}); res.Allowed {
		t.Error("expected deny for unlisted tool")
	}
	if res := g.Check(PermissionPromptTool, nil, Context{}); !res.Allowed {
		t.Error("permission prompt tool must pass an allow-list it is not on")
	}
}

func TestReadOnlyMode(t *testing.T) {
	g := NewGate(mustPolicy(t, Config{Mode: ModeReadOnly}))

	t.Run("destructive annotation denied regardless of name", func(t *testing.T) {
		res := g.Check("innocuous_name", nil, Context{
			Annotations:    tool.Annotations{Destructive: true},
			HasAnnotations: true,
		})
		if res.Allowed {
			t.Error("expected deny for destructive tool in read-only mode")
		}
	})

	t.Run("read-only annotation allowed regardless of name", func(t *testing.T) {
		res := g.Check("write_file", nil, Context{
			Annotations:    tool.Annotations{ReadOnly: true},
			HasAnnotations: true,
		})
		if !res.Allowed {
			t.Errorf("expected allow for read-only annotated tool, got %q", res.Reason)
		}
	})

	t.Run("known write names denied without annotations", func(t *testing.T) {
		for _, name := range []string{"write_file", "run_bash", "execute_code", "pip_install"} {
			if res := g.Check(name, nil, Context{}); res.Allowed {
				t.Errorf("expected deny for %q in read-only mode", name)
			}
		}
	})

	t.Run("known read names allowed without annotations", func(t *testing.T) {
		for _, name := range []string{"read_file", "grep", "list_files"} {
			if res := g.Check(name, nil, Context{}); !res.Allowed {
				t.Errorf("expected allow for %q in read-only mode, got %q", name, res.Reason)
			}
		}
	})
}

func TestCustomDecisionCallback(t *testing.T) {
	t.Run("valid result decides", func(t *testing.T) {
		p := mustPolicy(t, Config{Decision: func(name string, _ map[string]any, _ Context) (*Result, error) {
			r := Deny("custom veto of " + name)
			return &r, nil
		}})
		res := NewGate(p).Check("read_file", nil, Context{})
		if res.Allowed || !strings.Contains(res.Reason, "custom veto") {
			t.Errorf("expected custom deny, got %+v", res)
		}
	})

	t.Run("error fails closed", func(t *testing.T) {
		p := mustPolicy(t, Config{FileRead: true, Decision: func(string, map[string]any, Context) (*Result, error) {
			return nil, errors.New("backend unavailable")
		}})
		res := NewGate(p).Check("read_file", nil, Context{})
		if res.Allowed {
			t.Error("expected deny when callback errors")
		}
		if res.Reason != "permission callback failed" {
			t.Errorf("expected fixed diagnostic reason, got %q", res.Reason)
		}
	})

	t.Run("panic fails closed", func(t *testing.T) {
		p := mustPolicy(t, Config{FileRead: true, Decision: func(string, map[string]any, Context) (*Result, error) {
			panic("callback bug")
		}})
		res := NewGate(p).Check("read_file", nil, Context{})
		if res.Allowed {
			t.Error("expected deny when callback panics")
		}
	})

	t.Run("nil result fails closed", func(t *testing.T) {
		p := mustPolicy(t, Config{FileRead: true, Decision: func(string, map[string]any, Context) (*Result, error) {
			return nil, nil
		}})
		res := NewGate(p).Check("read_file", nil, Context{})
		if res.Allowed {
			t.Error("expected deny when callback abstains")
		}
	})
}

func TestCapabilityRules(t *testing.T) {
	t.Run("file read gated", func(t *testing.T) {
		g := NewGate(mustPolicy(t, Config{FileRead: false}))
		if res := g.Check("read_file", nil, Context{}); res.Allowed {
			t.Error("expected deny when file_read disabled")
		}
		g = NewGate(mustPolicy(t, Config{FileRead: true}))
		if res := g.Check("read_file", nil, Context{}); !res.Allowed {
			t.Errorf("expected allow when file_read enabled, got %q", res.Reason)
		}
	})

	t.Run("file write disabled denies with not allowed reason", func(t *testing.T) {
		g := NewGate(mustPolicy(t, Config{FileRead: true, FileWrite: "false"}))
		res := g.Check("write_file", map[string]any{"path": "x.txt", "content": "hi"}, Context{})
		if res.Allowed {
			t.Error("expected deny for write_file")
		}
		if !strings.Contains(res.Reason, "not allowed") {
			t.Errorf("expected reason referencing 'not allowed', got %q", res.Reason)
		}
	})

	t.Run("file write true allows anywhere", func(t *testing.T) {
		g := NewGate(mustPolicy(t, Config{FileWrite: "true"}))
		if res := g.Check("write_file", map[string]any{"path": "/tmp/anywhere.txt"}, Context{}); !res.Allowed {
			t.Errorf("expected allow, got %q", res.Reason)
		}
	})

	t.Run("shell web code and packages each gate on their own flag", func(t *testing.T) {
		g := NewGate(mustPolicy(t, Config{Shell: true}))
		if res := g.Check("run_bash", nil, Context{}); !res.Allowed {
			t.Errorf("expected shell allow, got %q", res.Reason)
		}
		if res := g.Check("web_fetch", nil, Context{}); res.Allowed {
			t.Error("expected web deny")
		}
		if res := g.Check("execute_code", nil, Context{}); res.Allowed {
			t.Error("expected code exec deny")
		}
		if res := g.Check("pip_install", nil, Context{}); res.Allowed {
			t.Error("expected package install deny")
		}
	})
}

func TestUnknownToolAnnotations(t *testing.T) {
	g := NewGate(mustPolicy(t, Config{}))

	t.Run("read-only annotated allows", func(t *testing.T) {
		res := g.Check("telescope", nil, Context{Annotations: tool.Annotations{ReadOnly: true}, HasAnnotations: true})
		if !res.Allowed {
			t.Errorf("expected allow, got %q", res.Reason)
		}
	})

	t.Run("destructive denied when writes disabled", func(t *testing.T) {
		res := g.Check("shredder", nil, Context{Annotations: tool.Annotations{Destructive: true}, HasAnnotations: true})
		if res.Allowed {
			t.Error("expected deny for destructive tool with writes disabled")
		}
	})

	t.Run("open world denied when web disabled", func(t *testing.T) {
		res := g.Check("crawler", nil, Context{Annotations: tool.Annotations{OpenWorld: true}, HasAnnotations: true})
		if res.Allowed {
			t.Error("expected deny for open-world tool with web disabled")
		}
	})

	t.Run("no signal defaults to allow", func(t *testing.T) {
		res := g.Check("mystery_tool", nil, Context{})
		if !res.Allowed {
			t.Errorf("expected default allow, got %q", res.Reason)
		}
	})
}

func TestCheckIdempotence(t *testing.T) {
	g := NewGate(mustPolicy(t, Config{FileRead: true, DisallowedTools: []string{"run_bash"}}))
	input := map[string]any{"path": "a.txt"}

	for _, name := range []string{"read_file", "run_bash", "write_file"} {
		first := g.Check(name, input, Context{})
		second := g.Check(name, input, Context{})
		if first != second {
			t.Errorf("check for %q not idempotent: %+v vs %+v", name, first, second)
		}
	}
}
