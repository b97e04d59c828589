// Package provider abstracts the language-model transport the execution
// loop talks to. A provider turns prompts into structured Turns, streaming
// text incrementally where it can, and reports cumulative token/cost totals.
package provider

import (
	"context"
	"strings"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolRequest is the model's structured request to invoke a tool. It is
// produced by the provider and consumed exactly once by the loop.
type ToolRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is the outcome of a tool invocation, fed back to the provider.
type ToolResult struct {
	RequestID string `json:"request_id"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failed reports whether the tool call ended in an error.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// ContentItem is one ordered element of a turn: a text fragment or a tool
// request, never both.
type ContentItem struct {
	Text        string       `json:"text,omitempty"`
	ToolRequest *ToolRequest `json:"tool_request,omitempty"`
}

// TurnUsage is the accounting for a single turn.
type TurnUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Turn is one exchange unit. Immutable once produced by the provider.
type Turn struct {
	Role  Role          `json:"role"`
	Items []ContentItem `json:"items"`
	Usage TurnUsage     `json:"usage"`
}

// Text concatenates the turn's text fragments.
func (t *Turn) Text() string {
	var b strings.Builder
	for _, item := range t.Items {
		b.WriteString(item.Text)
	}
	return b.String()
}

// ToolRequests returns the turn's tool-call requests in order.
func (t *Turn) ToolRequests() []ToolRequest {
	var reqs []ToolRequest
	for _, item := range t.Items {
		if item.ToolRequest != nil {
			reqs = append(reqs, *item.ToolRequest)
		}
	}
	return reqs
}

// Usage is the provider's cumulative accounting across the conversation.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Provider is the LLM chat/streaming transport the loop drives. One provider
// instance owns one conversation's history.
type Provider interface {
	// Stream sends a prompt and yields partial text through onChunk as it
	// arrives, returning the completed structured turn.
	Stream(ctx context.Context, prompt string, onChunk func(text string)) (*Turn, error)
	// Complete sends a prompt through the blocking (non-streaming) path.
	Complete(ctx context.Context, prompt string) (*Turn, error)
	// Resume feeds tool results back and obtains the model's next turn.
	Resume(ctx context.Context, results []ToolResult, onChunk func(text string)) (*Turn, error)
	// Summarize asks the model to condense the given turn texts. Used by
	// history compaction; implementations may refuse with an error.
	Summarize(ctx context.Context, texts []string) (string, error)

	// OnToolRequest registers a callback invoked when the provider detects
	// a tool-call request in the model output.
	OnToolRequest(fn func(ToolRequest))
	// OnToolResult registers a callback invoked when a tool result is about
	// to be sent back to the model.
	OnToolResult(fn func(ToolResult))

	SystemPrompt() string
	Name() string
	Model() string
	Usage() Usage
}
