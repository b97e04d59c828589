package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/agentloop/internal/hook"
	"github.com/mark3labs/agentloop/internal/logger"
)

// compactTruncateLen bounds how much of each turn the naive fallback
// summary keeps.
const compactTruncateLen = 200

// Compact reduces conversation history, keeping the most recent keep turns.
// The PreCompact hook may cancel the operation or supply a pre-built
// summary; otherwise the provider summarizes the removed turns, with a
// naive truncated concatenation as the fallback when summarization fails.
// The summary joins the system context for subsequent runs.
func (e *Engine) Compact(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}

	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("cannot compact while a run is in progress")
	}
	if len(e.history) <= keep {
		e.mu.Unlock()
		return nil
	}
	candidates := append([]string(nil), e.history[:len(e.history)-keep]...)
	kept := append([]string(nil), e.history[len(e.history)-keep:]...)
	count := e.compactions
	e.mu.Unlock()

	res := e.cfg.Hooks.Fire(ctx, hook.Input{
		Kind:            hook.PreCompact,
		CompactTurns:    candidates,
		KeepTurns:       kept,
		CompactionCount: count,
		Context:         hook.Context{WorkDir: e.cfg.WorkDir, Session: e.cfg.Session},
	})
	if res != nil && res.CancelCompaction {
		logger.Info("Compaction cancelled by hook: session=%s", e.cfg.Session)
		return nil
	}

	summary := ""
	if res != nil && res.Summary != "" {
		summary = res.Summary
	} else {
		var err error
		summary, err = e.cfg.Provider.Summarize(ctx, candidates)
		if err != nil {
			logger.Warn("Provider summarization failed, using naive fallback: %v", err)
			summary = naiveSummary(candidates)
		}
	}

	e.mu.Lock()
	e.summaries = append(e.summaries, summary)
	e.history = kept
	e.compactions++
	e.mu.Unlock()

	logger.Info("Compacted %d turns into summary: session=%s", len(candidates), e.cfg.Session)
	return nil
}

// Compactions returns how many compactions have run on this instance.
func (e *Engine) Compactions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compactions
}

// naiveSummary concatenates truncated turn texts when no better summary is
// available.
func naiveSummary(turns []string) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		t = truncateRunes(t, compactTruncateLen)
		parts = append(parts, t)
	}
	return strings.Join(parts, " / ")
}

// truncateRunes shortens s to at most max bytes, cutting on a rune boundary
// so multi-byte text is never split mid-character.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return s[:cut] + "..."
}
