package policy

import (
	"fmt"

	ierr "github.com/mark3labs/agentloop/internal/errors"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/mark3labs/agentloop/internal/tool"
)

// capability classifies a tool by what it touches.
type capability int

const (
	capUnknown capability = iota
	capFileRead
	capFileWrite
	capShell
	capCodeExec
	capWeb
	capPackageInstall
)

// classify maps known tool names to their capability class. Names are
// expected to be normalized already.
func classify(name string) capability {
	switch name {
	case "read_file", "read", "cat_file", "list_files", "ls", "glob", "grep", "search_files":
		return capFileRead
	case "write_file", "write", "edit_file", "edit", "create_file", "append_file", "delete_file":
		return capFileWrite
	case "run_bash", "bash", "shell", "run_command", "exec_command":
		return capShell
	case "execute_code", "run_python", "run_code", "code_exec":
		return capCodeExec
	case "web_fetch", "web_search", "fetch_url", "http_get":
		return capWeb
	case "install_package", "pip_install", "npm_install", "go_install":
		return capPackageInstall
	default:
		return capUnknown
	}
}

// modifiesState reports whether a known tool name writes, executes, or
// otherwise changes anything. Used as the read-only mode fallback when no
// annotations are available.
func modifiesState(name string) bool {
	switch classify(name) {
	case capFileWrite, capShell, capCodeExec, capPackageInstall:
		return true
	default:
		return false
	}
}

// Gate evaluates tool calls against an immutable Policy. Checks are pure:
// identical arguments against the same policy always produce equal results.
type Gate struct {
	policy *Policy
}

// NewGate creates a gate over the given policy.
func NewGate(p *Policy) *Gate {
	return &Gate{policy: p}
}

// Check decides whether a tool call may proceed. Evaluation order, first
// match wins: permission-prompt special case, deny-list, bypass mode,
// allow-list, read-only mode, custom decision callback, per-capability rules.
func (g *Gate) Check(toolName string, input map[string]any, pctx Context) Result {
	name := tool.Normalize(toolName)

	// The permission-prompt tool must always be reachable, even under an
	// active deny-list; blocking it would leave no way to ask.
	if name == PermissionPromptTool {
		return Allow("permission prompt tool")
	}

	if g.policy.isDenied(name) {
		return Deny(fmt.Sprintf("tool %q is on the deny-list", name))
	}

	if g.policy.mode == ModeBypassAll {
		return Allow("bypass mode")
	}

	if g.policy.hasAllowList() && !g.policy.isAllowListed(name) {
		return Deny(fmt.Sprintf("tool %q is not on the allow-list", name))
	}

	if g.policy.mode == ModeReadOnly {
		if pctx.HasAnnotations {
			if pctx.Annotations.Destructive {
				return Deny(fmt.Sprintf("tool %q is destructive and not allowed in read-only mode", name))
			}
			if pctx.Annotations.ReadOnly {
				return Allow("read-only tool")
			}
		}
		if modifiesState(name) {
			return Deny(fmt.Sprintf("tool %q modifies state and is not allowed in read-only mode", name))
		}
		return Allow("")
	}

	if g.policy.decision != nil {
		return g.invokeDecision(name, input, pctx)
	}

	return g.checkCapability(name, input, pctx)
}

// invokeDecision runs the custom callback, failing closed on any misbehavior.
func (g *Gate) invokeDecision(name string, input map[string]any, pctx Context) Result {
	var res *Result
	err := ierr.Recover(func() error {
		var callErr error
		res, callErr = g.policy.decision(name, input, pctx)
		return callErr
	})
	if err != nil {
		logger.Error("Permission callback failed for tool %q: %v", name, err)
		return Deny("permission callback failed")
	}
	if res == nil {
		logger.Error("Permission callback returned no result for tool %q", name)
		return Deny("permission callback failed")
	}
	return *res
}

func (g *Gate) checkCapability(name string, input map[string]any, pctx Context) Result {
	switch classify(name) {
	case capFileRead:
		if !g.policy.fileRead {
			return Deny("file reads are not allowed by policy")
		}
		return Allow("")

	case capFileWrite:
		return g.checkFileWrite(name, input)

	case capShell:
		if !g.policy.shell {
			return Deny("shell commands are not allowed by policy")
		}
		return Allow("")

	case capCodeExec:
		if !g.policy.codeExec {
			return Deny("code execution is not allowed by policy")
		}
		return Allow("")

	case capWeb:
		if !g.policy.web {
			return Deny("web access is not allowed by policy")
		}
		return Allow("")

	case capPackageInstall:
		if !g.policy.packageInstall {
			return Deny("package installation is not allowed by policy")
		}
		return Allow("")

	default:
		return g.checkUnknown(name, pctx)
	}
}

func (g *Gate) checkFileWrite(name string, input map[string]any) Result {
	if !g.policy.fileWriteEnabled {
		return Deny("file writes are not allowed by policy")
	}
	if g.policy.fileWriteRoot == "" {
		return Allow("")
	}

	target := pathArgument(input)
	if target == "" {
		return Deny(fmt.Sprintf("tool %q did not provide a target path; writes are restricted to %s", name, g.policy.fileWriteRoot))
	}
	resolved, err := ContainedIn(target, g.policy.fileWriteRoot)
	if err != nil {
		return Deny(fmt.Sprintf("write to %q is not allowed: %v", target, err))
	}
	return Allow(fmt.Sprintf("write confined to %s", resolved))
}

// checkUnknown gates tools the policy has no rule for, using their declared
// annotations when present and defaulting to allow otherwise.
func (g *Gate) checkUnknown(name string, pctx Context) Result {
	if pctx.HasAnnotations {
		ann := pctx.Annotations
		if ann.ReadOnly {
			return Allow("")
		}
		if ann.Destructive && !g.policy.fileWriteEnabled {
			return Deny(fmt.Sprintf("tool %q is destructive and writes are not allowed by policy", name))
		}
		if ann.OpenWorld && !g.policy.web {
			return Deny(fmt.Sprintf("tool %q reaches the open web and web access is not allowed by policy", name))
		}
	}
	return Allow("")
}

// pathArgument extracts the target path from a tool input map, trying the
// argument names the known write tools use.
func pathArgument(input map[string]any) string {
	for _, key := range []string{"path", "file_path", "filename", "file"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
