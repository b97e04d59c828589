// Package hook implements the lifecycle callback pipeline: registered
// callbacks fire at named events around the execution loop, can observe or
// veto behavior, and are isolated so a broken callback cannot take the loop
// down with it.
package hook

import (
	"context"
	"time"
)

// Kind names a lifecycle event.
type Kind string

const (
	PreToolUse       Kind = "pre_tool_use"
	PostToolUse      Kind = "post_tool_use"
	UserPromptSubmit Kind = "user_prompt_submit"
	Stop             Kind = "stop"
	SessionStart     Kind = "session_start"
	SessionEnd       Kind = "session_end"
	SubagentStop     Kind = "subagent_stop"
	PreCompact       Kind = "pre_compact"
)

// Kinds lists every known event kind.
var Kinds = []Kind{
	PreToolUse, PostToolUse, UserPromptSubmit, Stop,
	SessionStart, SessionEnd, SubagentStop, PreCompact,
}

func validKind(k Kind) bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Context carries ambient run information into every hook invocation.
type Context struct {
	WorkDir string         `json:"work_dir"`
	Session string         `json:"session"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Input is the payload handed to a hook callback. Only the fields relevant
// to the firing Kind are populated.
type Input struct {
	Kind      Kind
	ToolName  string         // PreToolUse, PostToolUse
	ToolInput map[string]any // PreToolUse

	ToolOutput string // PostToolUse
	ToolError  string // PostToolUse

	Prompt string // UserPromptSubmit
	Reason string // Stop, SessionEnd

	AgentName   string // SubagentStop
	Task        string // SubagentStop
	AgentResult string // SubagentStop

	CompactTurns    []string // PreCompact: candidate turn texts to remove
	KeepTurns       []string // PreCompact: turn texts kept
	CompactionCount int      // PreCompact: compactions so far

	Context Context
}

// Decision is a PreToolUse verdict.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Result is a hook's opinion. A nil *Result means the hook abstains and
// evaluation continues with the next matching hook.
type Result struct {
	Decision         Decision `json:"decision,omitempty"` // PreToolUse
	Reason           string   `json:"reason,omitempty"`
	Continue         *bool    `json:"continue,omitempty"` // false = stop the run after this step
	StopRequested    bool     `json:"stop_requested,omitempty"`
	CancelCompaction bool     `json:"cancel_compaction,omitempty"` // PreCompact
	Summary          string   `json:"summary,omitempty"`           // PreCompact pre-built summary
	SystemMessage    string   `json:"system_message,omitempty"`
}

// Denied reports whether the result vetoes the tool call.
func (r *Result) Denied() bool {
	return r != nil && r.Decision == DecisionDeny
}

// WantsStop reports whether the result asks the loop to terminate after the
// current step.
func (r *Result) WantsStop() bool {
	if r == nil {
		return false
	}
	if r.StopRequested {
		return true
	}
	return r.Continue != nil && !*r.Continue
}

// Func is an in-process hook callback.
type Func func(ctx context.Context, in Input) (*Result, error)

// Registration binds a callback to an event kind. Pattern is a glob matched
// against the normalized tool name for tool events; empty matches all tools.
// Timeout 0 runs the callback inline with no isolation (tests, cheap inline
// logging); any other value runs it out-of-line under a deadline.
type Registration struct {
	Kind    Kind
	Pattern string
	Timeout time.Duration
	Fn      Func
}

// DefaultTimeout bounds hook execution when a registration does not choose
// its own. Matches the command hook default of 30 seconds.
const DefaultTimeout = 30 * time.Second

// ErrorRecord is one entry in the pipeline's inspectable failure log.
type ErrorRecord struct {
	Kind      Kind      `json:"kind"`
	ToolName  string    `json:"tool_name,omitempty"`
	Err       string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}
