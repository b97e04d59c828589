package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/agentloop/internal/logger"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the hooks configuration file.
const ConfigFileName = ".agentloop.hooks.yml"

// FileConfig is the top-level structure of .agentloop.hooks.yml.
type FileConfig struct {
	Version int                        `yaml:"version"`
	Hooks   map[string][]CommandConfig `yaml:"hooks"` // keyed by event kind
}

// CommandConfig defines one shell command hook.
type CommandConfig struct {
	Command string `yaml:"command"`
	Pattern string `yaml:"pattern"` // optional tool name glob
	Timeout int    `yaml:"timeout"` // seconds, default 30
}

// LoadConfig loads the hooks configuration from the working directory.
// Returns nil if the config file doesn't exist (hooks are optional).
// Returns an error only if the file exists but cannot be parsed.
func LoadConfig(workDir string) (*FileConfig, error) {
	configPath := filepath.Join(workDir, ConfigFileName)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No hooks config found at %s", configPath)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hooks config: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse hooks config: %w", err)
	}

	logger.Debug("Loaded hooks config from %s (version: %d)", configPath, cfg.Version)
	return &cfg, nil
}

// RegisterCommands registers every command hook from cfg on the pipeline.
// Unknown event kind keys are an error so typos do not silently drop hooks.
func RegisterCommands(p *Pipeline, cfg *FileConfig, workDir string) error {
	if cfg == nil {
		return nil
	}
	for kindKey, commands := range cfg.Hooks {
		kind := Kind(kindKey)
		if !validKind(kind) {
			return fmt.Errorf("unknown hook event kind in config: %q", kindKey)
		}
		for _, cc := range commands {
			if cc.Command == "" {
				return fmt.Errorf("hook for %s has an empty command", kind)
			}
			timeout := time.Duration(cc.Timeout) * time.Second
			if cc.Timeout <= 0 {
				timeout = DefaultTimeout
			}
			if err := p.Register(Registration{
				Kind:    kind,
				Pattern: cc.Pattern,
				Timeout: timeout,
				Fn:      CommandFunc(cc.Command, workDir),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// CommandFunc adapts a shell command into a hook callback. The command runs
// via `sh -c` in workDir under the invocation's deadline, so a hung command
// is killed rather than stalling the loop. Exit code semantics: 0 with JSON
// on stdout is a result, 0 with other output abstains, 2 is a blocking
// deny whose reason is stderr, anything else is a hook error.
func CommandFunc(command, workDir string) Func {
	return func(ctx context.Context, in Input) (*Result, error) {
		expanded := expandVariables(command, in)
		logger.Debug("Executing hook command: %s", expanded)

		cmd := exec.CommandContext(ctx, "sh", "-c", expanded)
		cmd.Dir = workDir
		cmd.Env = append(os.Environ(),
			"AGENTLOOP_HOOK_EVENT="+string(in.Kind),
			"AGENTLOOP_HOOK_TOOL="+in.ToolName,
			"AGENTLOOP_HOOK_SESSION="+in.Context.Session,
		)
		cmd.Stdin = strings.NewReader(encodeInput(in))

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if runErr != nil {
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) && exitErr.ExitCode() == 2 {
				reason := strings.TrimSpace(stderr.String())
				if reason == "" {
					reason = "hook command blocked the call"
				}
				return &Result{Decision: DecisionDeny, Reason: reason}, nil
			}
			return nil, fmt.Errorf("hook command failed: %w (stderr: %s)", runErr, strings.TrimSpace(stderr.String()))
		}

		out := strings.TrimSpace(stdout.String())
		if out == "" || !strings.HasPrefix(out, "{") {
			return nil, nil
		}
		var res Result
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			return nil, fmt.Errorf("hook command produced invalid JSON: %w", err)
		}
		return &res, nil
	}
}

// encodeInput serializes the hook payload for the command's stdin.
func encodeInput(in Input) string {
	payload := map[string]any{
		"event":    string(in.Kind),
		"work_dir": in.Context.WorkDir,
		"session":  in.Context.Session,
	}
	if in.ToolName != "" {
		payload["tool_name"] = in.ToolName
	}
	if in.ToolInput != nil {
		payload["tool_input"] = in.ToolInput
	}
	if in.ToolOutput != "" {
		payload["tool_output"] = in.ToolOutput
	}
	if in.ToolError != "" {
		payload["tool_error"] = in.ToolError
	}
	if in.Reason != "" {
		payload["reason"] = in.Reason
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// expandVariables replaces {{variable}} placeholders in the command string.
func expandVariables(command string, in Input) string {
	replacements := map[string]string{
		"{{session}}": in.Context.Session,
		"{{tool}}":    in.ToolName,
		"{{workdir}}": in.Context.WorkDir,
		"{{event}}":   string(in.Kind),
	}

	result := command
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}
