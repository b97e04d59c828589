package hook

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	ierr "github.com/mark3labs/agentloop/internal/errors"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/mark3labs/agentloop/internal/tool"
)

// Pipeline is the hook registry for one agent instance. Hooks fire in
// registration order; the first non-nil result stops the chain.
type Pipeline struct {
	mu   sync.Mutex
	regs []Registration
	errs []ErrorRecord
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Register appends a hook registration after validating it.
func (p *Pipeline) Register(reg Registration) error {
	if !validKind(reg.Kind) {
		return fmt.Errorf("unknown hook event kind: %q", reg.Kind)
	}
	if reg.Fn == nil {
		return fmt.Errorf("hook for %s has no callback", reg.Kind)
	}
	if reg.Pattern != "" {
		if _, err := path.Match(reg.Pattern, "probe"); err != nil {
			return fmt.Errorf("invalid tool pattern %q: %w", reg.Pattern, err)
		}
	}
	if reg.Timeout < 0 {
		return fmt.Errorf("hook timeout must not be negative")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.regs = append(p.regs, reg)
	return nil
}

// On is a convenience wrapper registering fn for kind with the default
// timeout and no tool pattern.
func (p *Pipeline) On(kind Kind, fn Func) error {
	return p.Register(Registration{Kind: kind, Timeout: DefaultTimeout, Fn: fn})
}

// Fire invokes the hooks matching the event in registration order and
// returns the first non-nil result, or nil if every hook abstains. Failures
// follow the per-event policy: a broken PreToolUse hook denies the tool call
// (fail closed), any other kind records the failure and evaluation continues.
func (p *Pipeline) Fire(ctx context.Context, in Input) *Result {
	for _, reg := range p.matching(in) {
		res, err := p.invoke(ctx, reg, in)
		if err != nil {
			if in.Kind == PreToolUse {
				logger.Error("PreToolUse hook failed for tool %q, denying call: %v", in.ToolName, err)
				return &Result{Decision: DecisionDeny, Reason: "hook callback error"}
			}
			p.recordError(in, err)
			continue
		}
		if res != nil {
			return res
		}
	}
	return nil
}

// Errors returns a copy of the failure log.
func (p *Pipeline) Errors() []ErrorRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ErrorRecord, len(p.errs))
	copy(out, p.errs)
	return out
}

func (p *Pipeline) matching(in Input) []Registration {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := tool.Normalize(in.ToolName)
	var matched []Registration
	for _, reg := range p.regs {
		if reg.Kind != in.Kind {
			continue
		}
		if reg.Pattern != "" {
			ok, err := path.Match(reg.Pattern, name)
			if err != nil || !ok {
				continue
			}
		}
		matched = append(matched, reg)
	}
	return matched
}

// invoke runs one hook. Timeout 0 means inline execution; otherwise the
// callback runs on its own goroutine under a deadline, and on expiry the
// goroutine is abandoned with its context cancelled so the loop moves on.
func (p *Pipeline) invoke(ctx context.Context, reg Registration, in Input) (*Result, error) {
	if reg.Timeout == 0 {
		return p.call(ctx, reg.Fn, in)
	}

	hookCtx, cancel := context.WithTimeout(ctx, reg.Timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.call(hookCtx, reg.Fn, in)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-hookCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("Hook for %s timed out after %s", in.Kind, reg.Timeout)
		return nil, fmt.Errorf("hook timed out after %s", reg.Timeout)
	}
}

// call wraps the callback with panic capture so a crashing hook becomes an
// ordinary hook error.
func (p *Pipeline) call(ctx context.Context, fn Func, in Input) (*Result, error) {
	var res *Result
	err := ierr.Recover(func() error {
		var callErr error
		res, callErr = fn(ctx, in)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) recordError(in Input, err error) {
	logger.Error("Hook for %s failed (tool %q): %v", in.Kind, in.ToolName, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, ErrorRecord{
		Kind:      in.Kind,
		ToolName:  in.ToolName,
		Err:       err.Error(),
		Timestamp: time.Now(),
	})
}
