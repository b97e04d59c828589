package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/rs/xid"
)

// CLIConfig configures a CLIProvider.
type CLIConfig struct {
	Command      string   // agent CLI binary, e.g. "opencode"
	Args         []string // extra arguments appended to every invocation
	Model        string   // model identifier passed via --model
	WorkDir      string   // working directory for the subprocess
	SystemPrompt string
	Name         string // provider name reported to callers; defaults to Command
}

// CLIProvider drives an external agent CLI as the model transport: each call
// spawns the CLI with the prompt on stdin and parses its JSON-line event
// output into chunks, tool requests, and usage.
type CLIProvider struct {
	cfg CLIConfig

	mu        sync.Mutex
	usage     Usage
	onRequest func(ToolRequest)
	onResult  func(ToolResult)
}

// NewCLI creates a CLI-backed provider.
func NewCLI(cfg CLIConfig) (*CLIProvider, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("provider command is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Command
	}
	return &CLIProvider{cfg: cfg}, nil
}

// Stream implements Provider.
func (p *CLIProvider) Stream(ctx context.Context, prompt string, onChunk func(string)) (*Turn, error) {
	return p.run(ctx, prompt, nil, onChunk)
}

// Complete implements Provider via the same subprocess without chunk
// delivery.
func (p *CLIProvider) Complete(ctx context.Context, prompt string) (*Turn, error) {
	return p.run(ctx, prompt, nil, nil)
}

// Resume implements Provider: tool results are serialized onto stdin and the
// CLI is invoked with --continue so it picks up the stored conversation.
func (p *CLIProvider) Resume(ctx context.Context, results []ToolResult, onChunk func(string)) (*Turn, error) {
	p.mu.Lock()
	onResult := p.onResult
	p.mu.Unlock()
	if onResult != nil {
		for _, r := range results {
			onResult(r)
		}
	}
	return p.run(ctx, "", results, onChunk)
}

// Summarize implements Provider with a plain summarization prompt.
func (p *CLIProvider) Summarize(ctx context.Context, texts []string) (string, error) {
	prompt := "Summarize the following conversation turns, preserving decisions and open items:\n\n" +
		strings.Join(texts, "\n---\n")
	turn, err := p.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return turn.Text(), nil
}

// OnToolRequest implements Provider.
func (p *CLIProvider) OnToolRequest(fn func(ToolRequest)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRequest = fn
}

// OnToolResult implements Provider.
func (p *CLIProvider) OnToolResult(fn func(ToolResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult = fn
}

// SystemPrompt implements Provider.
func (p *CLIProvider) SystemPrompt() string { return p.cfg.SystemPrompt }

// Name implements Provider.
func (p *CLIProvider) Name() string { return p.cfg.Name }

// Model implements Provider.
func (p *CLIProvider) Model() string { return p.cfg.Model }

// Usage implements Provider.
func (p *CLIProvider) Usage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

// run spawns the CLI, writes the input, and parses JSON events from stdout
// into a completed Turn.
func (p *CLIProvider) run(ctx context.Context, prompt string, results []ToolResult, onChunk func(string)) (*Turn, error) {
	args := append([]string{"run", "--format", "json"}, p.cfg.Args...)
	if p.cfg.Model != "" {
		args = append(args, "--model", p.cfg.Model)
	}
	if results != nil {
		args = append(args, "--continue")
	}

	cmd := exec.CommandContext(ctx, p.cfg.Command, args...)
	cmd.Dir = p.cfg.WorkDir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	logger.Debug("Starting provider subprocess: %s", p.cfg.Command)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.cfg.Command, err)
	}

	// Kill the subprocess if the run is cancelled mid-stream.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, killing provider subprocess")
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		case <-done:
		}
	}()
	defer close(done)

	if err := p.writeInput(stdin, prompt, results); err != nil {
		return nil, err
	}

	parser := newTurnParser(onChunk, p.requestCallback())
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := parser.feed(line); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, err
		}
	}

	if ctx.Err() != nil {
		_ = cmd.Wait()
		return nil, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read provider output: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w", p.cfg.Command, err)
	}

	turn := parser.finish()
	p.mu.Lock()
	p.usage.InputTokens += turn.Usage.InputTokens
	p.usage.OutputTokens += turn.Usage.OutputTokens
	p.usage.CostUSD += turn.Usage.CostUSD
	p.mu.Unlock()

	return turn, nil
}

func (p *CLIProvider) requestCallback() func(ToolRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onRequest
}

func (p *CLIProvider) writeInput(stdin interface {
	Write([]byte) (int, error)
	Close() error
}, prompt string, results []ToolResult) error {
	defer stdin.Close()
	if results != nil {
		data, err := json.Marshal(map[string]any{"tool_results": results})
		if err != nil {
			return fmt.Errorf("failed to encode tool results: %w", err)
		}
		if _, err := stdin.Write(data); err != nil {
			return fmt.Errorf("failed to write tool results: %w", err)
		}
		return nil
	}
	if _, err := stdin.Write([]byte(prompt)); err != nil {
		return fmt.Errorf("failed to write prompt: %w", err)
	}
	return nil
}

// turnParser assembles a Turn from the CLI's JSON-line events.
//
//	{"type":"text","part":{"type":"text","text":"..."}}
//	{"type":"tool_use","part":{"type":"tool","id":"...","tool":"...","state":{"input":{...}}}}
//	{"type":"step_finish","usage":{"input_tokens":N,"output_tokens":N,"cost_usd":F}}
//	{"type":"error","error":{"name":"...","data":{"message":"..."}}}
type turnParser struct {
	onChunk   func(string)
	onRequest func(ToolRequest)
	items     []ContentItem
	pending   strings.Builder
	usage     TurnUsage
}

func newTurnParser(onChunk func(string), onRequest func(ToolRequest)) *turnParser {
	return &turnParser{onChunk: onChunk, onRequest: onRequest}
}

func (tp *turnParser) feed(line string) error {
	var event struct {
		Type string `json:"type"`
		Part *struct {
			Type  string         `json:"type"`
			Text  string         `json:"text"`
			ID    string         `json:"id"`
			Tool  string         `json:"tool"`
			State map[string]any `json:"state"`
		} `json:"part"`
		Usage *struct {
			InputTokens  int     `json:"input_tokens"`
			OutputTokens int     `json:"output_tokens"`
			CostUSD      float64 `json:"cost_usd"`
		} `json:"usage"`
		Error *struct {
			Name string `json:"name"`
			Data *struct {
				Message string `json:"message"`
			} `json:"data"`
		} `json:"error"`
	}

	if err := json.Unmarshal([]byte(line), &event); err != nil {
		logger.Warn("Failed to parse provider event JSON: %v", err)
		return nil
	}

	switch event.Type {
	case "text":
		if event.Part != nil && event.Part.Text != "" {
			tp.pending.WriteString(event.Part.Text)
			if tp.onChunk != nil {
				tp.onChunk(event.Part.Text)
			}
		}

	case "tool_use":
		if event.Part == nil || event.Part.Tool == "" {
			return nil
		}
		tp.flushText()
		req := ToolRequest{ID: event.Part.ID, Name: event.Part.Tool}
		if req.ID == "" {
			req.ID = xid.New().String()
		}
		if event.Part.State != nil {
			if input, ok := event.Part.State["input"].(map[string]any); ok {
				req.Args = input
			}
		}
		tp.items = append(tp.items, ContentItem{ToolRequest: &req})
		if tp.onRequest != nil {
			tp.onRequest(req)
		}

	case "step_finish":
		if event.Usage != nil {
			tp.usage.InputTokens += event.Usage.InputTokens
			tp.usage.OutputTokens += event.Usage.OutputTokens
			tp.usage.CostUSD += event.Usage.CostUSD
		}

	case "error":
		msg := "provider error"
		if event.Error != nil {
			msg = event.Error.Name
			if event.Error.Data != nil && event.Error.Data.Message != "" {
				msg = event.Error.Data.Message
			}
		}
		return fmt.Errorf("%s", msg)

	case "step_start":
		// Informational, no action needed.

	default:
		logger.Debug("Unknown provider event type: %s", event.Type)
	}
	return nil
}

func (tp *turnParser) flushText() {
	if tp.pending.Len() > 0 {
		tp.items = append(tp.items, ContentItem{Text: tp.pending.String()})
		tp.pending.Reset()
	}
}

func (tp *turnParser) finish() *Turn {
	tp.flushText()
	return &Turn{Role: RoleAssistant, Items: tp.items, Usage: tp.usage}
}
