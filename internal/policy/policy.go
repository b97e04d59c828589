// Package policy implements the permission model for an agent instance: an
// immutable Policy snapshot constructed before a run starts and a Gate that
// evaluates every tool call against it. Nothing the agent does mid-run can
// alter the policy, so a tool call can never widen its own permissions.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/agentloop/internal/tool"
)

// Mode selects the coarse permission posture.
type Mode string

const (
	// ModeDefault applies the per-capability rules.
	ModeDefault Mode = "default"
	// ModeReadOnly allows only tools that do not modify anything.
	ModeReadOnly Mode = "read_only"
	// ModeBypassAll allows everything not on the deny-list.
	ModeBypassAll Mode = "bypass_all"
)

// PermissionPromptTool is the designated tool for asking the operator for
// permission. It keeps its implicit allow even under an active deny-list.
const PermissionPromptTool = "request_permission"

// Result is the outcome of a permission check.
type Result struct {
	Allowed   bool
	Message   string // optional note attached to an allow
	Reason    string // why a call was denied
	Interrupt bool   // a deny that must terminate the whole run
}

// Allow builds an allowing result with an optional message.
func Allow(message string) Result {
	return Result{Allowed: true, Message: message}
}

// Deny builds a denying result for this call only.
func Deny(reason string) Result {
	return Result{Reason: reason}
}

// DenyInterrupt builds a denying result that aborts the run.
func DenyInterrupt(reason string) Result {
	return Result{Reason: reason, Interrupt: true}
}

// Context carries the ambient information a check may consult.
type Context struct {
	WorkDir        string
	Session        string
	Annotations    tool.Annotations
	HasAnnotations bool
}

// DecisionFunc is an optional caller-supplied decision callback. A non-nil
// Result decides the call; errors, panics, and nil results all fail closed.
type DecisionFunc func(toolName string, input map[string]any, pctx Context) (*Result, error)

// Config is the builder input for a Policy.
type Config struct {
	Mode            Mode
	AllowedTools    []string // nil/empty = no allow-list
	DisallowedTools []string
	Decision        DecisionFunc

	FileRead bool
	// FileWrite accepts "true"/"false" or a directory path. A path enables
	// writes restricted to that directory subtree.
	FileWrite      string
	Shell          bool
	CodeExec       bool
	Web            bool
	PackageInstall bool

	MaxTurns   int     // 0 = unlimited
	MaxCostUSD float64 // 0 = unlimited
}

// Policy is the immutable permission/budget snapshot for one agent instance.
// All fields are fixed at construction; the zero value is unusable.
type Policy struct {
	mode     Mode
	allowed  map[string]bool // nil means no allow-list configured
	denied   map[string]bool
	decision DecisionFunc

	fileRead         bool
	fileWriteEnabled bool
	fileWriteRoot    string // empty = unrestricted when writes are enabled

	shell          bool
	codeExec       bool
	web            bool
	packageInstall bool

	maxTurns   int
	maxCostUSD float64
}

// New validates cfg and builds an immutable Policy. Tool lists are copied and
// normalized; a relative write root is anchored at the working directory of
// the process constructing the policy.
func New(cfg Config) (*Policy, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDefault
	}
	switch mode {
	case ModeDefault, ModeReadOnly, ModeBypassAll:
	default:
		return nil, fmt.Errorf("invalid permission mode: %q", mode)
	}

	if cfg.MaxTurns < 0 {
		return nil, fmt.Errorf("max turns must not be negative, got %d", cfg.MaxTurns)
	}
	if cfg.MaxCostUSD < 0 {
		return nil, fmt.Errorf("max cost must not be negative, got %f", cfg.MaxCostUSD)
	}

	p := &Policy{
		mode:           mode,
		decision:       cfg.Decision,
		fileRead:       cfg.FileRead,
		shell:          cfg.Shell,
		codeExec:       cfg.CodeExec,
		web:            cfg.Web,
		packageInstall: cfg.PackageInstall,
		maxTurns:       cfg.MaxTurns,
		maxCostUSD:     cfg.MaxCostUSD,
	}

	if len(cfg.AllowedTools) > 0 {
		p.allowed = make(map[string]bool, len(cfg.AllowedTools))
		for _, name := range cfg.AllowedTools {
			p.allowed[tool.Normalize(name)] = true
		}
	}
	p.denied = make(map[string]bool, len(cfg.DisallowedTools))
	for _, name := range cfg.DisallowedTools {
		p.denied[tool.Normalize(name)] = true
	}

	switch strings.ToLower(strings.TrimSpace(cfg.FileWrite)) {
	case "", "false", "0", "no":
		// writes disabled
	case "true", "1", "yes":
		p.fileWriteEnabled = true
	default:
		root, err := filepath.Abs(cfg.FileWrite)
		if err != nil {
			return nil, fmt.Errorf("resolving write root %q: %w", cfg.FileWrite, err)
		}
		p.fileWriteEnabled = true
		p.fileWriteRoot = filepath.Clean(root)
	}

	return p, nil
}

// Mode returns the permission mode.
func (p *Policy) Mode() Mode { return p.mode }

// MaxTurns returns the turn ceiling (0 = unlimited).
func (p *Policy) MaxTurns() int { return p.maxTurns }

// MaxCostUSD returns the cost ceiling (0 = unlimited).
func (p *Policy) MaxCostUSD() float64 { return p.maxCostUSD }

// FileWriteRoot returns the directory writes are confined to, if any.
func (p *Policy) FileWriteRoot() string { return p.fileWriteRoot }

func (p *Policy) isDenied(name string) bool {
	return p.denied[name]
}

func (p *Policy) hasAllowList() bool {
	return p.allowed != nil
}

func (p *Policy) isAllowListed(name string) bool {
	return p.allowed[name]
}
