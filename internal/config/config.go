// Package config provides centralized configuration management using Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for agentloop.
type Config struct {
	Model   string `mapstructure:"model" yaml:"model"`
	Command string `mapstructure:"command" yaml:"command"`
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`

	MaxTurns   int     `mapstructure:"max_turns" yaml:"max_turns"`
	MaxCostUSD float64 `mapstructure:"max_cost_usd" yaml:"max_cost_usd"`

	PermissionMode  string   `mapstructure:"permission_mode" yaml:"permission_mode"`
	AllowedTools    []string `mapstructure:"allowed_tools" yaml:"allowed_tools"`
	DisallowedTools []string `mapstructure:"disallowed_tools" yaml:"disallowed_tools"`

	FileRead bool `mapstructure:"file_read" yaml:"file_read"`
	// FileWrite accepts "true"/"false" or a directory path restricting writes.
	FileWrite      string `mapstructure:"file_write" yaml:"file_write"`
	Shell          bool   `mapstructure:"shell" yaml:"shell"`
	CodeExec       bool   `mapstructure:"code_exec" yaml:"code_exec"`
	Web            bool   `mapstructure:"web" yaml:"web"`
	PackageInstall bool   `mapstructure:"package_install" yaml:"package_install"`

	IncludePartial bool `mapstructure:"include_partial" yaml:"include_partial"`
	ServePort      int  `mapstructure:"serve_port" yaml:"serve_port"`
}

// Load loads configuration with full precedence:
// CLI flags > ENV vars > project config > XDG global config > defaults
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("agentloop")

	// Set defaults (command has no default - it's required)
	v.SetDefault("model", "")
	v.SetDefault("data_dir", ".agentloop")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("max_turns", 0)
	v.SetDefault("max_cost_usd", 0.0)
	v.SetDefault("permission_mode", "default")
	v.SetDefault("file_read", true)
	v.SetDefault("file_write", "false")
	v.SetDefault("shell", false)
	v.SetDefault("code_exec", false)
	v.SetDefault("web", false)
	v.SetDefault("package_install", false)
	v.SetDefault("include_partial", true)
	v.SetDefault("serve_port", 0)

	// Setup ENV binding with AGENTLOOP_ prefix
	v.SetEnvPrefix("AGENTLOOP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicit ENV bindings for better bool/int parsing
	keys := []string{
		"model", "command", "data_dir", "log_level", "log_file",
		"max_turns", "max_cost_usd", "permission_mode",
		"file_read", "file_write", "shell", "code_exec", "web",
		"package_install", "include_partial", "serve_port",
	}
	for _, key := range keys {
		env := "AGENTLOOP_" + strings.ToUpper(key)
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s env: %w", key, err)
		}
	}

	// Load global config first (if exists)
	globalPath := GlobalPath()
	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading global config: %w", err)
		}
	}

	// Merge project config on top (if exists)
	projectPath := ProjectPath()
	if fileExists(projectPath) {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Exists returns true if any config file exists (global or project).
func Exists() bool {
	return fileExists(GlobalPath()) || fileExists(ProjectPath())
}

// GlobalPath returns the XDG global config path.
// Returns ~/.config/agentloop/agentloop.yml or $XDG_CONFIG_HOME/agentloop/agentloop.yml.
func GlobalPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentloop", "agentloop.yml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "agentloop", "agentloop.yml")
}

// ProjectPath returns the project-local config path.
// Returns ./agentloop.yml in the current working directory.
func ProjectPath() string {
	return "agentloop.yml"
}

// WriteGlobal writes the config to the XDG global location.
func WriteGlobal(cfg *Config) error {
	path := GlobalPath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// WriteProject writes the config to the project-local location.
func WriteProject(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(ProjectPath(), data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
