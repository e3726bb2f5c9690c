package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Orchestrator.MaxParallelTasks != 4 {
		t.Errorf("default max_parallel_tasks should be 4, got %d", cfg.Orchestrator.MaxParallelTasks)
	}
	if cfg.Orchestrator.FSWriteParallel != 1 || cfg.Orchestrator.ShellParallel != 1 {
		t.Error("fs_write and shell should default to serial execution")
	}
	if cfg.Orchestrator.MaxTaskRetries != 3 {
		t.Errorf("default retries should be 3, got %d", cfg.Orchestrator.MaxTaskRetries)
	}
	if !cfg.Planner.Strict {
		t.Error("planner should default to strict contract checking")
	}
	if cfg.Budget.MaxTokens == 0 {
		t.Error("default budget should cap tokens")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.toml")
	content := `
[orchestrator]
max_parallel_tasks = 2
llm_parallel = 1

[budget]
max_tokens = 1000

[llm]
provider = "anthropic"
model = "claude-sonnet-4-5"

[stream]
url = "nats://localhost:4222"

[routines]
dir = "/var/lib/conductor/routines"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Orchestrator.MaxParallelTasks != 2 || cfg.Orchestrator.LLMParallel != 1 {
		t.Errorf("orchestrator overrides not applied: %+v", cfg.Orchestrator)
	}
	if cfg.Budget.MaxTokens != 1000 {
		t.Errorf("budget override not applied: %d", cfg.Budget.MaxTokens)
	}
	// Unset sections keep defaults.
	if cfg.Orchestrator.MaxTaskRetries != 3 {
		t.Errorf("unset retries should keep default, got %d", cfg.Orchestrator.MaxTaskRetries)
	}
	if cfg.Stream.URL != "nats://localhost:4222" {
		t.Errorf("stream url not applied: %q", cfg.Stream.URL)
	}
	if cfg.Routines.Dir == "" {
		t.Error("routines dir not applied")
	}
}

func TestLoadFile_BadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("[orchestrator\nmax ="), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("malformed TOML should fail to load")
	}
}

func TestGetAPIKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "anthropic"
	t.Setenv("ANTHROPIC_API_KEY", "k-default")
	if got := cfg.GetAPIKey(); got != "k-default" {
		t.Errorf("provider default env not used: %q", got)
	}

	cfg.LLM.APIKeyEnv = "MY_KEY"
	t.Setenv("MY_KEY", "k-custom")
	if got := cfg.GetAPIKey(); got != "k-custom" {
		t.Errorf("explicit env should win: %q", got)
	}
}
