// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the orchestrator configuration.
type Config struct {
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Budget       BudgetConfig       `toml:"budget"`
	LLM          LLMConfig          `toml:"llm"`       // Default LLM settings
	Planner      PlannerConfig      `toml:"planner"`   // Plan generation settings
	Storage      StorageConfig      `toml:"storage"`   // Persistent storage settings
	Stream       StreamConfig       `toml:"stream"`    // Event stream fan-out
	Telemetry    TelemetryConfig    `toml:"telemetry"` // OTLP tracing
	Routines     RoutinesConfig     `toml:"routines"`  // Scheduled recurring runs
}

// OrchestratorConfig contains scheduling and retry settings.
type OrchestratorConfig struct {
	MaxParallelTasks    int `toml:"max_parallel_tasks"`    // Global admission limit (default 4)
	LLMParallel         int `toml:"llm_parallel"`          // Per-class sub-limit (default 3)
	FSWriteParallel     int `toml:"fs_write_parallel"`     // default 1
	ShellParallel       int `toml:"shell_parallel"`        // default 1
	NetworkParallel     int `toml:"network_parallel"`      // default 2
	MaxTaskRetries      int `toml:"max_task_retries"`      // default 3
	TaskTimeoutSecs     int `toml:"task_timeout_secs"`     // Per-attempt timeout (default 600)
	CheckpointEverySecs int `toml:"checkpoint_every_secs"` // Heartbeat checkpoint interval (default 30)

	// Resource classes whose task attempts need an operator's tool approval
	// before executing. Default: shell and fs_write.
	ApprovalClasses []string `toml:"approval_classes"`
}

// BudgetConfig contains default run budget caps.
type BudgetConfig struct {
	MaxIterations   uint32 `toml:"max_iterations"`
	MaxTokens       uint64 `toml:"max_tokens"`
	MaxWallTimeSecs uint64 `toml:"max_wall_time_secs"`
	MaxSubAgentRuns uint32 `toml:"max_subagent_runs"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"` // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
}

// PlannerConfig contains plan generation settings.
type PlannerConfig struct {
	Strict bool     `toml:"strict"` // Reject responses that are not the exact JSON contract
	Roles  []string `toml:"roles"`  // Roles the planner may assign to tasks
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path string `toml:"path"` // Base directory for runs, events and checkpoints
}

// StreamConfig contains NATS fan-out settings. An empty URL disables
// external streaming; in-process subscribers still work.
type StreamConfig struct {
	URL string `toml:"url"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
	Insecure bool   `toml:"insecure"` // Disable TLS (default false)
}

// RoutinesConfig contains scheduled run settings.
type RoutinesConfig struct {
	Dir string `toml:"dir"` // Directory of routine spec YAML files, watched for changes
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxParallelTasks:    4,
			LLMParallel:         3,
			FSWriteParallel:     1,
			ShellParallel:       1,
			NetworkParallel:     2,
			MaxTaskRetries:      3,
			TaskTimeoutSecs:     600,
			CheckpointEverySecs: 30,
			ApprovalClasses:     []string{"shell", "fs_write"},
		},
		Budget: BudgetConfig{
			MaxIterations:   50,
			MaxTokens:       500_000,
			MaxWallTimeSecs: 3600,
			MaxSubAgentRuns: 10,
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Planner: PlannerConfig{
			Strict: true,
		},
		Storage: StorageConfig{
			Path: "~/.local/conductor",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from conductor.toml in the current
// directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "conductor.toml"))
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// StoragePath expands a leading ~ in the storage path.
func (c *Config) StoragePath() string {
	p := c.Storage.Path
	if len(p) >= 2 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
