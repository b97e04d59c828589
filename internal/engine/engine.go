// Package engine implements the execution loop: it drives a multi-turn
// tool-augmented conversation with a provider, checks the permission gate
// before every tool invocation, fires lifecycle hooks, tracks budgets, and
// emits progress events until a stop condition is reached.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/agentloop/internal/budget"
	ierr "github.com/mark3labs/agentloop/internal/errors"
	"github.com/mark3labs/agentloop/internal/event"
	"github.com/mark3labs/agentloop/internal/hook"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/mark3labs/agentloop/internal/policy"
	"github.com/mark3labs/agentloop/internal/provider"
	"github.com/mark3labs/agentloop/internal/tool"
)

// State is the loop's lifecycle position. All states except Running are
// terminal for the current run; a new run resets a terminal state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateMaxTurns  State = "max_turns_reached"
	StateCostLimit State = "cost_limit_reached"
	StateHookStop  State = "hook_stopped"
	StateErrored   State = "errored"
	StateCancelled State = "cancelled"
)

// StopReason says why a run ended.
type StopReason string

const (
	StopComplete      StopReason = "complete"
	StopMaxTurns      StopReason = "max_turns"
	StopCostLimit     StopReason = "cost_limit"
	StopHookRequested StopReason = "hook_requested_stop"
	StopError         StopReason = "error"
	StopCancelled     StopReason = "cancelled"
)

func stateFor(reason StopReason) State {
	switch reason {
	case StopComplete:
		return StateCompleted
	case StopMaxTurns:
		return StateMaxTurns
	case StopCostLimit:
		return StateCostLimit
	case StopHookRequested:
		return StateHookStop
	case StopCancelled:
		return StateCancelled
	default:
		return StateErrored
	}
}

// Config holds everything one engine instance needs. Policy, hooks, tools,
// and the budget tracker live for the instance's lifetime and may span
// multiple runs; events and turns are per run.
type Config struct {
	Session  string
	WorkDir  string
	Provider provider.Provider
	Policy   *policy.Policy
	Hooks    *hook.Pipeline
	Tools    *tool.Registry

	// Buffer sizes the per-run event channel. 0 uses the event default.
	Buffer int

	// IncludePartial controls whether text_chunk events are emitted.
	// Disabled, only complete text events reach the stream.
	IncludePartial bool

	// StallWindow is how many trailing assistant turns the stall detector
	// compares. Values below 2 use the default of 2.
	StallWindow int
}

// Engine is the execution loop. One instance processes one conversation at
// a time; concurrent Run calls on the same instance are rejected.
type Engine struct {
	cfg     Config
	gate    *policy.Gate
	tracker *budget.Tracker
	stall   *stallDetector

	mu          sync.Mutex
	state       State
	stopAsked   bool
	compactions int
	history     []string // assistant turn texts, oldest first
	summaries   []string // compaction summaries appended to system context
	notes       []string // hook-supplied system messages appended to system context
}

// New creates an engine. The budget ceilings come from the policy.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Policy == nil {
		return nil, fmt.Errorf("policy is required")
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hook.NewPipeline()
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry()
	}
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}

	return &Engine{
		cfg:     cfg,
		gate:    policy.NewGate(cfg.Policy),
		tracker: budget.NewTracker(cfg.Policy.MaxTurns(), cfg.Policy.MaxCostUSD()),
		stall:   newStallDetector(cfg.StallWindow),
		state:   StateIdle,
	}, nil
}

// Session returns the session name.
func (e *Engine) Session() string { return e.cfg.Session }

// State returns the loop's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Turns returns the number of completed turns across the instance lifetime.
func (e *Engine) Turns() int { return e.tracker.TurnsUsed() }

// Cost returns the cumulative cost in USD.
func (e *Engine) Cost() float64 { return e.tracker.CostUsed() }

// Budget returns the tracker for inspection.
func (e *Engine) Budget() *budget.Tracker { return e.tracker }

// HookErrors returns the pipeline's recorded hook failures.
func (e *Engine) HookErrors() []hook.ErrorRecord { return e.cfg.Hooks.Errors() }

// RequestStop asks the loop to terminate at the next iteration boundary.
// Safe to call from another goroutine.
func (e *Engine) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopAsked = true
}

func (e *Engine) stopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopAsked
}

// setState records the terminal state and clears any pending stop request
// so it does not leak into the next run.
func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	e.stopAsked = false
}

// Result is the outcome of a completed run.
type Result struct {
	FinalText  string
	Events     []event.Event
	StopReason StopReason
	Turns      int
	CostUSD    float64
	Duration   time.Duration
}

// Run starts the loop and returns the run's event stream. The channel is
// closed after the final stop event. Only one run may be active at a time.
func (e *Engine) Run(ctx context.Context, task string) (<-chan event.Event, error) {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return nil, fmt.Errorf("run already in progress for session %q", e.cfg.Session)
	}
	e.state = StateRunning
	e.mu.Unlock()

	stream := event.NewStream(e.cfg.Session, e.cfg.Buffer)
	go e.run(ctx, task, stream)
	return stream.Events(), nil
}

// RunSync drains Run to completion and returns the accumulated result. It
// never stops consuming before the stream closes, so SessionEnd has always
// fired by the time it returns.
func (e *Engine) RunSync(ctx context.Context, task string) (*Result, error) {
	start := time.Now()
	events, err := e.Run(ctx, task)
	if err != nil {
		return nil, err
	}

	res := &Result{Events: event.Collect(events)}
	for _, ev := range res.Events {
		switch ev.Type {
		case event.TypeTextComplete:
			res.FinalText = ev.Text
		case event.TypeStop:
			if ev.Stop != nil {
				res.StopReason = StopReason(ev.Stop.Reason)
				res.Turns = ev.Stop.Turns
				res.CostUSD = ev.Stop.CostUSD
			}
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

// run is the loop body. It always fires Stop then SessionEnd exactly once,
// emits the final stop event, and closes the stream.
func (e *Engine) run(ctx context.Context, task string, stream *event.Stream) {
	logger.Info("Run starting: session=%s", e.cfg.Session)
	start := time.Now()

	stream.Emit(event.Event{Type: event.TypeStart, Text: task})

	hctx := hook.Context{WorkDir: e.cfg.WorkDir, Session: e.cfg.Session}
	e.mu.Lock()
	e.notes = nil
	e.mu.Unlock()
	hookStop := false
	if res := e.cfg.Hooks.Fire(ctx, hook.Input{Kind: hook.SessionStart, Context: hctx}); res.WantsStop() {
		hookStop = true
	}
	if res := e.cfg.Hooks.Fire(ctx, hook.Input{Kind: hook.UserPromptSubmit, Prompt: task, Context: hctx}); res != nil {
		if res.SystemMessage != "" {
			e.mu.Lock()
			e.notes = append(e.notes, res.SystemMessage)
			e.mu.Unlock()
		}
		if res.WantsStop() {
			hookStop = true
		}
	}

	reason := e.loop(ctx, task, stream, hctx, hookStop)

	// Stop and SessionEnd fire even when the run was cancelled, so listeners
	// are never left dangling.
	endCtx := context.WithoutCancel(ctx)
	e.cfg.Hooks.Fire(endCtx, hook.Input{Kind: hook.Stop, Reason: string(reason), Context: hctx})
	e.cfg.Hooks.Fire(endCtx, hook.Input{Kind: hook.SessionEnd, Reason: string(reason), Context: hctx})

	stream.Emit(event.Event{
		Type: event.TypeStop,
		Stop: &event.StopPayload{
			Reason:   string(reason),
			Turns:    e.tracker.TurnsUsed(),
			CostUSD:  e.tracker.CostUsed(),
			Duration: time.Since(start),
		},
	})
	stream.Close()

	e.setState(stateFor(reason))
	logger.Info("Run finished: session=%s reason=%s turns=%d cost=$%.4f",
		e.cfg.Session, reason, e.tracker.TurnsUsed(), e.tracker.CostUsed())
}

// loop drives turns until a stop condition and returns the reason.
func (e *Engine) loop(ctx context.Context, task string, stream *event.Stream, hctx hook.Context, hookStop bool) StopReason {
	prompt := e.composePrompt(task)
	var pending []provider.ToolResult
	first := true

	for {
		// Iteration boundary: cancellation and cooperative stop first.
		if ctx.Err() != nil {
			logger.Info("Run cancelled: session=%s", e.cfg.Session)
			return StopCancelled
		}
		if hookStop || e.stopRequested() {
			return StopHookRequested
		}

		turn, err := e.nextTurn(ctx, prompt, pending, stream, first)
		if err != nil {
			if ctx.Err() != nil {
				return StopCancelled
			}
			logger.Error("Provider error: %v", err)
			stream.Emit(event.Event{Type: event.TypeWarning, Warning: fmt.Sprintf("provider error: %v", err)})
			return StopError
		}
		first = false

		text := turn.Text()
		if text != "" {
			stream.Emit(event.Event{Type: event.TypeTextComplete, Text: text})
		}

		reqs := turn.ToolRequests()
		if e.stall.Observe(text, len(reqs) > 0) {
			stream.Emit(event.Event{
				Type:    event.TypeWarning,
				Warning: fmt.Sprintf("possible stall: last %d turns produced identical output with no tool calls", e.stall.Window()),
			})
		}
		e.mu.Lock()
		e.history = append(e.history, text)
		e.mu.Unlock()

		pending = pending[:0]
		interrupted := false
		for _, req := range reqs {
			if interrupted {
				pending = append(pending, provider.ToolResult{RequestID: req.ID, Error: "run terminated"})
				continue
			}
			if e.tracker.Exhausted() {
				pending = append(pending, provider.ToolResult{RequestID: req.ID, Error: "budget exhausted, no further tool calls permitted"})
				continue
			}
			result, stop := e.handleToolCall(ctx, req, stream, hctx)
			pending = append(pending, result)
			if stop {
				interrupted = true
			}
		}

		check := e.tracker.RecordTurn(e.cfg.Provider.Usage().CostUSD)
		if check.WarnCost {
			stream.Emit(event.Event{Type: event.TypeWarning, Warning: check.Warning})
		}
		stream.Emit(event.Event{
			Type: event.TypeTurnComplete,
			Turn: &event.TurnPayload{Number: e.tracker.TurnsUsed(), CostUSD: e.tracker.CostUsed()},
		})

		if e.hookStopPending() {
			hookStop = true
		}

		switch {
		case interrupted:
			return StopError
		case check.OverCost:
			return StopCostLimit
		case check.OverTurns:
			return StopMaxTurns
		case hookStop || e.stopRequested():
			return StopHookRequested
		case len(reqs) == 0:
			return StopComplete
		}
	}
}

// nextTurn talks to the provider, preferring the streaming path with one
// automatic fallback to the blocking path after a warning event.
func (e *Engine) nextTurn(ctx context.Context, prompt string, results []provider.ToolResult, stream *event.Stream, first bool) (*provider.Turn, error) {
	onChunk := func(s string) {
		if e.cfg.IncludePartial {
			stream.Emit(event.Event{Type: event.TypeTextChunk, Text: s})
		}
	}

	if first {
		turn, err := e.cfg.Provider.Stream(ctx, prompt, onChunk)
		if err == nil || ctx.Err() != nil {
			return turn, err
		}
		logger.Warn("Streaming failed, falling back to blocking call: %v", err)
		stream.Emit(event.Event{Type: event.TypeWarning, Warning: fmt.Sprintf("streaming failed, falling back to blocking call: %v", err)})
		return e.cfg.Provider.Complete(ctx, prompt)
	}

	turn, err := e.cfg.Provider.Resume(ctx, results, onChunk)
	if err == nil || ctx.Err() != nil {
		return turn, err
	}
	logger.Warn("Streaming resume failed, retrying without streaming: %v", err)
	stream.Emit(event.Event{Type: event.TypeWarning, Warning: fmt.Sprintf("streaming failed, falling back to blocking call: %v", err)})
	return e.cfg.Provider.Resume(ctx, results, nil)
}

// handleToolCall runs one request through the gate, the hook pipeline, and
// the tool itself. The returned bool asks the loop to terminate.
func (e *Engine) handleToolCall(ctx context.Context, req provider.ToolRequest, stream *event.Stream, hctx hook.Context) (provider.ToolResult, bool) {
	name := tool.Normalize(req.Name)

	pctx := policy.Context{WorkDir: e.cfg.WorkDir, Session: e.cfg.Session}
	impl, known := e.cfg.Tools.Get(name)
	if known {
		pctx.Annotations = impl.Annotations()
		pctx.HasAnnotations = true
	}

	verdict := e.gate.Check(name, req.Args, pctx)
	if !verdict.Allowed {
		logger.Info("Tool denied by policy: tool=%s reason=%s", name, verdict.Reason)
		stream.Emit(event.Event{Type: event.TypeToolStart, Tool: &event.ToolPayload{RequestID: req.ID, Name: name, Input: req.Args}})
		stream.Emit(event.Event{Type: event.TypeToolEnd, Tool: &event.ToolPayload{
			RequestID: req.ID, Name: name, Denied: true, DenyReason: verdict.Reason,
		}})
		return provider.ToolResult{RequestID: req.ID, Error: verdict.Reason}, verdict.Interrupt
	}

	hookRes := e.cfg.Hooks.Fire(ctx, hook.Input{
		Kind:      hook.PreToolUse,
		ToolName:  name,
		ToolInput: req.Args,
		Context:   hctx,
	})
	if hookRes.Denied() {
		reason := hookRes.Reason
		if reason == "" {
			reason = "denied by hook"
		}
		logger.Info("Tool denied by hook: tool=%s reason=%s", name, reason)
		stream.Emit(event.Event{Type: event.TypeToolStart, Tool: &event.ToolPayload{RequestID: req.ID, Name: name, Input: req.Args}})
		stream.Emit(event.Event{Type: event.TypeToolEnd, Tool: &event.ToolPayload{
			RequestID: req.ID, Name: name, Denied: true, DenyReason: reason,
		}})
		if hookRes.WantsStop() {
			e.noteHookStop()
		}
		return provider.ToolResult{RequestID: req.ID, Error: reason}, false
	}
	if hookRes.WantsStop() {
		e.noteHookStop()
	}

	stream.Emit(event.Event{Type: event.TypeToolStart, Tool: &event.ToolPayload{RequestID: req.ID, Name: name, Input: req.Args}})

	var output string
	var execErr error
	if !known {
		execErr = fmt.Errorf("unknown tool %q", name)
	} else {
		execErr = ierr.Recover(func() error {
			var err error
			output, err = impl.Execute(ctx, req.Args)
			return err
		})
	}

	errText := ""
	if execErr != nil {
		errText = execErr.Error()
		logger.Warn("Tool failed: tool=%s err=%v", name, execErr)
	}

	postRes := e.cfg.Hooks.Fire(ctx, hook.Input{
		Kind:       hook.PostToolUse,
		ToolName:   name,
		ToolOutput: output,
		ToolError:  errText,
		Context:    hctx,
	})
	if postRes.WantsStop() {
		e.noteHookStop()
	}

	stream.Emit(event.Event{Type: event.TypeToolEnd, Tool: &event.ToolPayload{
		RequestID: req.ID, Name: name, Output: output, Error: errText,
	}})

	return provider.ToolResult{RequestID: req.ID, Content: output, Error: errText}, false
}

// noteHookStop records a hook-requested stop honored at the next boundary.
func (e *Engine) noteHookStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopAsked = true
}

func (e *Engine) hookStopPending() bool {
	return e.stopRequested()
}

// composePrompt prefixes the task with compaction summaries and any
// hook-supplied system messages so a compacted conversation retains its
// condensed history.
func (e *Engine) composePrompt(task string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.summaries) == 0 && len(e.notes) == 0 {
		return task
	}
	var b []byte
	for _, s := range e.summaries {
		b = append(b, "[conversation summary] "...)
		b = append(b, s...)
		b = append(b, '\n')
	}
	for _, n := range e.notes {
		b = append(b, "[context] "...)
		b = append(b, n...)
		b = append(b, '\n')
	}
	b = append(b, task...)
	return string(b)
}
