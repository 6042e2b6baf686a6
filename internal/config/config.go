// Package config handles reading and writing .agentk/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure for .agentk/config.yaml.
type Config struct {
	Version   int             `yaml:"version"`
	Mode      string          `yaml:"mode"` // "dev" | "ml"
	Model     string          `yaml:"model"`
	Agent     AgentConfig     `yaml:"agent"`
	Execution ExecutionConfig `yaml:"execution"`
	Council   CouncilConfig   `yaml:"council"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
}

// AgentConfig describes how agent processes are launched.
type AgentConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	PersonaDir string   `yaml:"persona_dir"`
}

// ExecutionConfig controls the process supervisor.
type ExecutionConfig struct {
	MaxParallel      int    `yaml:"max_parallel"`
	TimeoutPerTask   int    `yaml:"timeout_per_task"` // seconds, 0 disables
	KillGraceMS      int    `yaml:"kill_grace_ms"`
	PollIntervalMS   int    `yaml:"poll_interval_ms"`
	DependencyPolicy string `yaml:"dependency_policy"` // "block" | "cancel"
	// FailureThreshold stops a run after this many tasks fail in a row.
	// Negative disables the check.
	FailureThreshold int `yaml:"failure_threshold"`
}

// CouncilConfig controls the multi-model council.
type CouncilConfig struct {
	Timeout     int             `yaml:"timeout"` // seconds
	Chairman    string          `yaml:"chairman"`
	Scout       bool            `yaml:"scout"`
	SoloBackend string          `yaml:"solo_backend"`
	Personas    []string        `yaml:"personas"`
	Backends    []BackendConfig `yaml:"backends"`
}

// BackendConfig describes one model backend reachable through a CLI.
type BackendConfig struct {
	Name          string   `yaml:"name"`
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	CredentialEnv []string `yaml:"credential_env"`
}

// CleanupConfig holds retention settings for run directories.
type CleanupConfig struct {
	MaxAgeDays int `yaml:"max_age_days"`
}

const (
	configDir  = ".agentk"
	configFile = "config.yaml"
)

// Dir returns the .agentk directory inside root.
func Dir(root string) string {
	return filepath.Join(root, configDir)
}

// ResolveRoot returns the workspace root: $AGENTK_ROOT when set, otherwise
// the current directory.
func ResolveRoot() (string, error) {
	if root := os.Getenv("AGENTK_ROOT"); root != "" {
		return filepath.Abs(root)
	}
	return os.Getwd()
}

// ReadConfig reads .agentk/config.yaml from the given workspace root.
// Returns an error if the file is not found or YAML is malformed.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configDir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// Load reads the config if present and back-fills zero values from
// DefaultConfig. A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	cfg, err := ReadConfig(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	cfg.applyDefaults(DefaultConfig())
	return cfg, nil
}

// WriteConfig writes cfg to .agentk/config.yaml in the given workspace root.
// Creates the .agentk/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, configDir)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(dirPath, configFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Mode:    "dev",
		Model:   "opus",
		Agent: AgentConfig{
			Command: "claude",
		},
		Execution: ExecutionConfig{
			MaxParallel:      5,
			TimeoutPerTask:   0,
			KillGraceMS:      1000,
			PollIntervalMS:   500,
			DependencyPolicy: "block",
			FailureThreshold: 3,
		},
		Council: CouncilConfig{
			Timeout:  300,
			Chairman: "claude",
			Personas: []string{"architect", "pragmatist", "skeptic"},
			Backends: []BackendConfig{
				{
					Name:          "claude",
					Command:       "claude",
					Args:          []string{"-p", "{prompt}", "--output-format", "json"},
					CredentialEnv: nil,
				},
				{
					Name:          "gemini",
					Command:       "gemini",
					Args:          []string{"-p", "{prompt}", "--output-format", "json"},
					CredentialEnv: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
				},
				{
					Name:          "codex",
					Command:       "codex",
					Args:          []string{"exec", "--json", "{prompt}"},
					CredentialEnv: []string{"OPENAI_API_KEY"},
				},
			},
		},
		Cleanup: CleanupConfig{
			MaxAgeDays: 30,
		},
	}
}

func (c *Config) applyDefaults(d *Config) {
	if c.Version == 0 {
		c.Version = d.Version
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Agent.Command == "" {
		c.Agent.Command = d.Agent.Command
	}
	if c.Execution.MaxParallel <= 0 {
		c.Execution.MaxParallel = d.Execution.MaxParallel
	}
	if c.Execution.KillGraceMS <= 0 {
		c.Execution.KillGraceMS = d.Execution.KillGraceMS
	}
	if c.Execution.PollIntervalMS <= 0 {
		c.Execution.PollIntervalMS = d.Execution.PollIntervalMS
	}
	if c.Execution.DependencyPolicy == "" {
		c.Execution.DependencyPolicy = d.Execution.DependencyPolicy
	}
	if c.Execution.FailureThreshold == 0 {
		c.Execution.FailureThreshold = d.Execution.FailureThreshold
	}
	if c.Council.Timeout <= 0 {
		c.Council.Timeout = d.Council.Timeout
	}
	if c.Council.Chairman == "" {
		c.Council.Chairman = d.Council.Chairman
	}
	if len(c.Council.Personas) == 0 {
		c.Council.Personas = d.Council.Personas
	}
	if len(c.Council.Backends) == 0 {
		c.Council.Backends = d.Council.Backends
	}
	if c.Cleanup.MaxAgeDays <= 0 {
		c.Cleanup.MaxAgeDays = d.Cleanup.MaxAgeDays
	}
}

// KillGrace returns the grace period between SIGTERM and SIGKILL.
func (e ExecutionConfig) KillGrace() time.Duration {
	return time.Duration(e.KillGraceMS) * time.Millisecond
}

// PollInterval returns the interval used by wait and watch loops.
func (e ExecutionConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

// TaskTimeout returns the per-task timeout, or zero when disabled.
func (e ExecutionConfig) TaskTimeout() time.Duration {
	return time.Duration(e.TimeoutPerTask) * time.Second
}

// RunTimeout returns the hard timeout for one council run.
func (c CouncilConfig) RunTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// PromptPlaceholder marks where the composed prompt goes in command args.
const PromptPlaceholder = "{prompt}"

// ExpandArgs substitutes prompt for every PromptPlaceholder in args and
// reports whether any placeholder was found.
func ExpandArgs(args []string, prompt string) ([]string, bool) {
	out := make([]string, len(args))
	found := false
	for i, a := range args {
		if a == PromptPlaceholder {
			out[i] = prompt
			found = true
			continue
		}
		out[i] = a
	}
	return out, found
}
