// Package config loads the taskpilot configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the state directory.
const FileName = "config.yaml"

// Config is the root configuration for a taskpilot project.
type Config struct {
	Version  int       `yaml:"version"`
	Agent    Agent     `yaml:"agent"`
	Hosting  Hosting   `yaml:"hosting"`
	PR       PR        `yaml:"pr"`
	Webhooks []Webhook `yaml:"webhooks,omitempty"`
	Log      Log       `yaml:"log"`
}

// Agent describes the coding agent CLI and how to call it.
type Agent struct {
	Cmd        string   `yaml:"cmd"`                   // claude, gemini, codex, ...
	Args       []string `yaml:"args,omitempty"`        // extra CLI arguments
	TimeoutSec int      `yaml:"timeout_sec,omitempty"` // per session (0 = default 1800)
	AutoAccept bool     `yaml:"auto_accept,omitempty"` // skip the agent's permission prompts
}

// Hosting selects where PRs are opened.
type Hosting struct {
	Provider   string `yaml:"provider"`              // "github" or "none"
	Remote     string `yaml:"remote,omitempty"`      // git remote to push to (default origin)
	BaseBranch string `yaml:"base_branch,omitempty"` // PR target (default: detected)
}

// PR tunes the PR cycle.
type PR struct {
	PollIntervalSec int     `yaml:"poll_interval_sec"`
	TimeoutSec      int     `yaml:"timeout_sec"`
	MaxFixAttempts  int     `yaml:"max_fix_attempts"`
	Backoff         Backoff `yaml:"backoff"`
}

// Backoff configures retries of transient hosting errors.
type Backoff struct {
	MaxRetries     int     `yaml:"max_retries"`
	InitialBackoff float64 `yaml:"initial_backoff"` // seconds
	MaxBackoff     float64 `yaml:"max_backoff"`     // seconds
	Multiplier     float64 `yaml:"multiplier"`
}

// Webhook is one notification endpoint.
type Webhook struct {
	URL        string   `yaml:"url"`
	Secret     string   `yaml:"secret,omitempty"`
	Events     []string `yaml:"events,omitempty"` // empty = all
	TimeoutSec int      `yaml:"timeout_sec,omitempty"`
}

// Log configures the run log.
type Log struct {
	Level string `yaml:"level"`
}

// EffectiveArgs returns the final args for the agent CLI, injecting
// non-interactive and auto-accept flags for known tools.
//
// Known tools and their flags:
//   - claude: --print --dangerously-skip-permissions
//   - gemini: --yolo
//   - codex:  --full-auto
//
// The auto-accept flags are only added when auto_accept is true.
func (a Agent) EffectiveArgs() []string {
	args := make([]string, len(a.Args))
	copy(args, a.Args)

	switch a.Cmd {
	case "claude":
		if !containsAny(args, "-p", "--print") {
			args = appendFront(args, "--print")
		}
		if a.AutoAccept && !containsAny(args, "--dangerously-skip-permissions", "--permission-mode") {
			args = appendFront(args, "--dangerously-skip-permissions")
		}
	case "gemini":
		if a.AutoAccept && !containsAny(args, "-y", "--yolo") {
			args = appendFront(args, "--yolo")
		}
	case "codex":
		if a.AutoAccept && !containsAny(args, "--full-auto", "--approval-mode") {
			args = appendFront(args, "--full-auto")
		}
	}

	return args
}

// Timeout returns the effective per-session timeout.
func (a Agent) Timeout() time.Duration {
	if a.TimeoutSec > 0 {
		return time.Duration(a.TimeoutSec) * time.Second
	}
	return 30 * time.Minute
}

// PollInterval returns the CI poll interval.
func (p PR) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSec) * time.Second
}

// Timeout returns how long to wait for CI before giving up.
func (p PR) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// Timeout returns the delivery timeout of the webhook.
func (w Webhook) Timeout() time.Duration {
	if w.TimeoutSec > 0 {
		return time.Duration(w.TimeoutSec) * time.Second
	}
	return 10 * time.Second
}

// Load reads and parses the config file at the given path. Missing values
// take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults if it does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config driving the claude CLI against GitHub.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Agent: Agent{
			Cmd:        "claude",
			TimeoutSec: 1800,
		},
		Hosting: Hosting{
			Provider: "github",
			Remote:   "origin",
		},
		PR: PR{
			PollIntervalSec: 5,
			TimeoutSec:      3600,
			MaxFixAttempts:  3,
			Backoff: Backoff{
				MaxRetries:     3,
				InitialBackoff: 1.0,
				MaxBackoff:     30.0,
				Multiplier:     2.0,
			},
		},
		Log: Log{Level: "info"},
	}
}

func (c *Config) validate() error {
	if c.Agent.Cmd == "" {
		return fmt.Errorf("agent: cmd is required")
	}
	switch c.Hosting.Provider {
	case "github", "none":
	default:
		return fmt.Errorf("hosting: provider must be 'github' or 'none', got %q", c.Hosting.Provider)
	}
	if c.PR.PollIntervalSec <= 0 {
		return fmt.Errorf("pr: poll_interval_sec must be positive")
	}
	if c.PR.TimeoutSec < c.PR.PollIntervalSec {
		return fmt.Errorf("pr: timeout_sec must be at least poll_interval_sec")
	}
	if c.PR.MaxFixAttempts < 0 {
		return fmt.Errorf("pr: max_fix_attempts cannot be negative")
	}
	b := c.PR.Backoff
	if b.MaxRetries < 0 || b.InitialBackoff < 0 || b.MaxBackoff < b.InitialBackoff || b.Multiplier < 1 {
		return fmt.Errorf("pr.backoff: need max_retries >= 0, 0 <= initial_backoff <= max_backoff, multiplier >= 1")
	}
	for i, w := range c.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("webhooks[%d]: url must be http(s), got %q", i, w.URL)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}

// containsAny checks if any of the targets exist in the slice.
func containsAny(slice []string, targets ...string) bool {
	for _, s := range slice {
		for _, t := range targets {
			if s == t {
				return true
			}
		}
	}
	return false
}

// appendFront inserts a value at the beginning of a slice.
func appendFront(slice []string, val string) []string {
	return append([]string{val}, slice...)
}
