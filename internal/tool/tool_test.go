package tool

import (
	"context"
	"testing"
)

func echoTool(name string) *Func {
	return NewFunc(name, "echoes input", Annotations{ReadOnly: true}, func(_ context.Context, args map[string]any) (string, error) {
		s, _ := args["text"].(string)
		return s, nil
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"read_file", "read_file"},
		{"Read_File", "read_file"},
		{"  READ_FILE  ", "read_file"},
		{"mcp__files__read_file", "read_file"},
		{"mcp__read_file", "read_file"},
		{"MCP__Files__Read_File", "read_file"},
		{"mcp__", "mcp__"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("register and lookup via alias", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(echoTool("echo")); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		for _, alias := range []string{"echo", "ECHO", "mcp__local__echo"} {
			if _, ok := r.Get(alias); !ok {
				t.Errorf("expected lookup to succeed for alias %q", alias)
			}
		}
	})

	t.Run("duplicate registration rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(echoTool("echo")); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if err := r.Register(echoTool("Echo")); err == nil {
			t.Error("expected duplicate registration error")
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(echoTool("")); err == nil {
			t.Error("expected error for empty tool name")
		}
	})

	t.Run("names sorted", func(t *testing.T) {
		r := NewRegistry()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			if err := r.Register(echoTool(name)); err != nil {
				t.Fatalf("Register failed: %v", err)
			}
		}
		names := r.Names()
		if len(names) != 3 || names[0] != "alpha" || names[2] != "zeta" {
			t.Errorf("unexpected names order: %v", names)
		}
	})
}

func TestFuncExecute(t *testing.T) {
	f := echoTool("echo")
	out, err := f.Execute(context.Background(), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "hi" {
		t.Errorf("expected 'hi', got %q", out)
	}
	if !f.Annotations().ReadOnly {
		t.Error("expected ReadOnly annotation")
	}
}
