package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptStep is one scripted exchange. StreamErr, when set, makes the first
// streaming attempt for this step fail so callers can exercise their
// blocking fallback; the step's turn is then served by Complete.
type ScriptStep struct {
	Turn      *Turn
	StreamErr error

	streamFailed bool
}

// ScriptProvider serves a pre-scripted sequence of turns. It exists for
// tests and offline demos: deterministic, no subprocess, records everything
// it is asked.
type ScriptProvider struct {
	mu    sync.Mutex
	steps []*ScriptStep
	idx   int
	usage Usage

	Prompts  []string       // prompts received via Stream/Complete
	Results  [][]ToolResult // tool result batches received via Resume
	Summoned []string       // texts passed to Summarize

	Summary      string // returned by Summarize
	SummarizeErr error

	onRequest func(ToolRequest)
	onResult  func(ToolResult)

	name         string
	model        string
	systemPrompt string
}

// NewScript creates a provider that plays back the given steps in order.
func NewScript(steps ...*ScriptStep) *ScriptProvider {
	return &ScriptProvider{
		steps: steps,
		name:  "script",
		model: "script/fixed",
	}
}

// TextTurn builds an assistant turn with a single text item.
func TextTurn(text string, cost float64) *Turn {
	return &Turn{
		Role:  RoleAssistant,
		Items: []ContentItem{{Text: text}},
		Usage: TurnUsage{OutputTokens: len(text) / 4, CostUSD: cost},
	}
}

// ToolCallTurn builds an assistant turn carrying text plus one tool request.
func ToolCallTurn(text, reqID, toolName string, args map[string]any, cost float64) *Turn {
	return &Turn{
		Role: RoleAssistant,
		Items: []ContentItem{
			{Text: text},
			{ToolRequest: &ToolRequest{ID: reqID, Name: toolName, Args: args}},
		},
		Usage: TurnUsage{OutputTokens: len(text) / 4, CostUSD: cost},
	}
}

// Stream implements Provider.
func (p *ScriptProvider) Stream(ctx context.Context, prompt string, onChunk func(string)) (*Turn, error) {
	p.mu.Lock()
	p.Prompts = append(p.Prompts, prompt)
	step, err := p.peekLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if step.StreamErr != nil && !step.streamFailed {
		step.streamFailed = true
		p.mu.Unlock()
		return nil, step.StreamErr
	}
	p.mu.Unlock()
	return p.deliver(ctx, onChunk)
}

// Complete implements Provider; it never fails with the scripted StreamErr.
func (p *ScriptProvider) Complete(ctx context.Context, prompt string) (*Turn, error) {
	p.mu.Lock()
	p.Prompts = append(p.Prompts, prompt)
	p.mu.Unlock()
	return p.deliver(ctx, nil)
}

// Resume implements Provider.
func (p *ScriptProvider) Resume(ctx context.Context, results []ToolResult, onChunk func(string)) (*Turn, error) {
	p.mu.Lock()
	p.Results = append(p.Results, results)
	onResult := p.onResult
	step, err := p.peekLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if step.StreamErr != nil && !step.streamFailed {
		step.streamFailed = true
		p.mu.Unlock()
		return nil, step.StreamErr
	}
	p.mu.Unlock()

	if onResult != nil {
		for _, r := range results {
			onResult(r)
		}
	}
	return p.deliver(ctx, onChunk)
}

// Summarize implements Provider.
func (p *ScriptProvider) Summarize(_ context.Context, texts []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Summoned = append(p.Summoned, texts...)
	if p.SummarizeErr != nil {
		return "", p.SummarizeErr
	}
	if p.Summary != "" {
		return p.Summary, nil
	}
	return "summary of " + strings.Join(texts, "; "), nil
}

// OnToolRequest implements Provider.
func (p *ScriptProvider) OnToolRequest(fn func(ToolRequest)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRequest = fn
}

// OnToolResult implements Provider.
func (p *ScriptProvider) OnToolResult(fn func(ToolResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResult = fn
}

// SystemPrompt implements Provider.
func (p *ScriptProvider) SystemPrompt() string { return p.systemPrompt }

// SetSystemPrompt configures the reported system prompt.
func (p *ScriptProvider) SetSystemPrompt(s string) { p.systemPrompt = s }

// Name implements Provider.
func (p *ScriptProvider) Name() string { return p.name }

// Model implements Provider.
func (p *ScriptProvider) Model() string { return p.model }

// Usage implements Provider.
func (p *ScriptProvider) Usage() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

func (p *ScriptProvider) peekLocked() (*ScriptStep, error) {
	if p.idx >= len(p.steps) {
		return nil, fmt.Errorf("script exhausted after %d turns", len(p.steps))
	}
	return p.steps[p.idx], nil
}

func (p *ScriptProvider) deliver(ctx context.Context, onChunk func(string)) (*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	step, err := p.peekLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.idx++
	turn := step.Turn
	p.usage.InputTokens += turn.Usage.InputTokens
	p.usage.OutputTokens += turn.Usage.OutputTokens
	p.usage.CostUSD += turn.Usage.CostUSD
	onRequest := p.onRequest
	p.mu.Unlock()

	for _, item := range turn.Items {
		if item.Text != "" && onChunk != nil {
			onChunk(item.Text)
		}
		if item.ToolRequest != nil && onRequest != nil {
			onRequest(*item.ToolRequest)
		}
	}
	return turn, nil
}
