package engine

import (
	"context"
	"fmt"

	"github.com/mark3labs/agentloop/internal/hook"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/mark3labs/agentloop/internal/provider"
)

// Delegate runs a task on a sub-agent and returns its final answer. The
// child inherits the parent's policy, working directory, hooks, and tools;
// only the provider is its own. The parent fires SubagentStop with the
// child's name, task, and result before returning.
func (e *Engine) Delegate(ctx context.Context, name, task string, p provider.Provider) (string, error) {
	child, err := New(Config{
		Session:        e.cfg.Session + "/" + name,
		WorkDir:        e.cfg.WorkDir,
		Provider:       p,
		Policy:         e.cfg.Policy,
		Hooks:          e.cfg.Hooks,
		Tools:          e.cfg.Tools,
		IncludePartial: e.cfg.IncludePartial,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create sub-agent %q: %w", name, err)
	}

	logger.Info("Delegating to sub-agent: name=%s session=%s", name, child.Session())
	res, err := child.RunSync(ctx, task)

	result := ""
	if res != nil {
		result = res.FinalText
		if res.StopReason != StopComplete {
			logger.Warn("Sub-agent %q stopped with reason %s", name, res.StopReason)
		}
	}
	if err != nil {
		result = fmt.Sprintf("sub-agent error: %v", err)
	}

	e.cfg.Hooks.Fire(ctx, hook.Input{
		Kind:        hook.SubagentStop,
		AgentName:   name,
		Task:        task,
		AgentResult: result,
		Context:     hook.Context{WorkDir: e.cfg.WorkDir, Session: e.cfg.Session},
	})

	if err != nil {
		return "", err
	}
	return result, nil
}
