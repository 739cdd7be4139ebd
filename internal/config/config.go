// Package config handles reading and writing .agentlock/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gren-lsp/agentlock/internal/toolpaths"
)

// Config is the top-level structure for .agentlock/config.yaml.
type Config struct {
	Version      int                `yaml:"version"`
	Locks        LocksConfig        `yaml:"locks"`
	Agents       AgentsConfig       `yaml:"agents"`
	Tools        ToolsConfig        `yaml:"tools"`
	History      HistoryConfig      `yaml:"history"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Serve        ServeConfig        `yaml:"serve"`
	Log          LogConfig          `yaml:"log"`
}

// LocksConfig controls the lock store and expiry policy.
type LocksConfig struct {
	TTLSeconds         int     `yaml:"ttl_seconds"`
	CleanupProbability float64 `yaml:"cleanup_probability"`
	Database           string  `yaml:"database"` // relative to the project root
}

// AgentsConfig controls the agent state store.
type AgentsConfig struct {
	StateFile     string `yaml:"state_file"` // relative to the project root
	DefaultName   string `yaml:"default_name"`
	RetentionDays int    `yaml:"retention_days"`
}

// ToolsConfig lists the host tool names that touch files.
type ToolsConfig struct {
	Writing []string     `yaml:"writing"`
	Reading []string     `yaml:"reading"`
	Custom  []CustomTool `yaml:"custom,omitempty"`
}

// CustomTool registers a tool outside the built-in set, typically an MCP
// tool, whose path arguments are named by PathFields.
type CustomTool struct {
	Name       string   `yaml:"name"`
	PathFields []string `yaml:"path_fields"`
	Kind       string   `yaml:"kind"` // writing | reading
}

// HistoryConfig controls the excerpt attached to completion notifications.
type HistoryConfig struct {
	Limit int `yaml:"limit"`
}

// OrchestratorConfig points at the external orchestrator.
// An empty URL means notifications only go to the journal.
type OrchestratorConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ServeConfig controls `agentlock serve`.
type ServeConfig struct {
	Addr            string `yaml:"addr"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Dir is the state directory relative to the project root.
const Dir = ".agentlock"

const configFile = "config.yaml"

// ReadConfig reads .agentlock/config.yaml from the given project directory.
// dir is the project root (not .agentlock/ itself).
// Returns an error if the file is not found or YAML is malformed.
// Fields missing from the file keep their default values.
func ReadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, Dir, configFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Load reads the project config, falling back to defaults when no config
// file exists, then applies environment overrides and validates the result.
func Load(dir string) (*Config, error) {
	cfg, err := ReadConfig(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = DefaultConfig()
	}

	if err := ApplyEnv(dir, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteConfig writes cfg to .agentlock/config.yaml in the given project directory.
// Creates the .agentlock/ directory if it does not exist.
func WriteConfig(dir string, cfg *Config) error {
	dirPath := filepath.Join(dir, Dir)
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
		Locks: LocksConfig{
			TTLSeconds:         600,
			CleanupProbability: 0.1,
			Database:           filepath.Join(Dir, "locks.db"),
		},
		Agents: AgentsConfig{
			StateFile:     filepath.Join(Dir, "agents.json"),
			DefaultName:   "unknown-agent",
			RetentionDays: 30,
		},
		Tools: ToolsConfig{
			Writing: []string{"Write", "Edit", "MultiEdit", "NotebookEdit"},
			Reading: []string{"Read"},
		},
		History: HistoryConfig{
			Limit: 50,
		},
		Orchestrator: OrchestratorConfig{
			TimeoutMs: 5000,
		},
		Serve: ServeConfig{
			Addr:            "127.0.0.1:7420",
			CleanupSchedule: "@every 1m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Locks.TTLSeconds <= 0 {
		return fmt.Errorf("invalid config: locks.ttl_seconds must be positive, got %d", c.Locks.TTLSeconds)
	}
	if c.Locks.CleanupProbability < 0 || c.Locks.CleanupProbability > 1 {
		return fmt.Errorf("invalid config: locks.cleanup_probability must be within [0,1], got %v", c.Locks.CleanupProbability)
	}
	if c.History.Limit < 0 {
		return fmt.Errorf("invalid config: history.limit must not be negative, got %d", c.History.Limit)
	}
	if len(c.Tools.Writing) == 0 {
		return errors.New("invalid config: tools.writing must list at least one tool")
	}
	for i, t := range c.Tools.Custom {
		if t.Name == "" || len(t.PathFields) == 0 {
			return fmt.Errorf("invalid config: tools.custom[%d] needs a name and path_fields", i)
		}
		if t.Kind != "writing" && t.Kind != "reading" {
			return fmt.Errorf("invalid config: tools.custom[%d].kind must be writing or reading, got %q", i, t.Kind)
		}
	}
	return nil
}

// ToolSets returns the writing and reading tool names, custom tools included.
func (c *Config) ToolSets() toolpaths.Sets {
	sets := toolpaths.Sets{
		Writing: append([]string(nil), c.Tools.Writing...),
		Reading: append([]string(nil), c.Tools.Reading...),
	}
	for _, t := range c.Tools.Custom {
		if t.Kind == "writing" {
			sets.Writing = append(sets.Writing, t.Name)
		} else {
			sets.Reading = append(sets.Reading, t.Name)
		}
	}
	return sets
}

// ToolRegistry returns the built-in tools plus the configured custom ones.
func (c *Config) ToolRegistry() (*toolpaths.Registry, error) {
	reg := toolpaths.DefaultRegistry()
	for _, t := range c.Tools.Custom {
		if err := reg.Register(toolpaths.Tool{Name: t.Name, PathFields: t.PathFields}); err != nil {
			return nil, fmt.Errorf("registering custom tool: %w", err)
		}
	}
	return reg, nil
}

// LockTTL returns the lock expiry duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Locks.TTLSeconds) * time.Second
}

// OrchestratorTimeout returns the notifier request timeout.
func (c *Config) OrchestratorTimeout() time.Duration {
	if c.Orchestrator.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Orchestrator.TimeoutMs) * time.Millisecond
}

// DatabasePath resolves the lock database path against the project root.
func (c *Config) DatabasePath(root string) string {
	return resolve(root, c.Locks.Database)
}

// AgentStatePath resolves the agent state file path against the project root.
func (c *Config) AgentStatePath(root string) string {
	return resolve(root, c.Agents.StateFile)
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
