// Package main is the entry point for the conductor orchestrator CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/conductor/internal/config"
	"github.com/vinayprograms/conductor/internal/routine"
	"github.com/vinayprograms/conductor/internal/run"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	_ = godotenv.Load()
}

// app carries the wired service into command handlers.
type app struct {
	cfg      *config.Config
	svc      *run.Service
	routines *routine.Manager
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("conductor"),
		kong.Description("Agentic run orchestrator: plan, approve, execute, audit."),
		kong.UsageOnError(),
	)

	if kctx.Command() == "version" {
		fmt.Printf("conductor version %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return
	}

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating LLM provider: %v\n", err)
		os.Exit(1)
	}

	svc, err := run.NewService(cfg, provider, run.NewLLMExecutor(provider))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	a := &app{cfg: cfg, svc: svc}
	if err := kctx.Run(a); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	local := filepath.Join(cwd, "conductor.toml")
	if _, err := os.Stat(local); err == nil {
		return config.LoadFile(local)
	}
	return config.Default(), nil
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	llmProvider := cfg.LLM.Provider
	if llmProvider == "" {
		llmProvider = llm.InferProviderFromModel(cfg.LLM.Model)
	}
	if llmProvider == "" && cfg.LLM.Model == "" {
		// Commands that only inspect persisted state still work; planning
		// and execution will fail loudly.
		return llm.NewMockProvider(), nil
	}
	return llm.NewProvider(llm.ProviderConfig{
		Provider:  llmProvider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.GetAPIKey(),
		MaxTokens: cfg.LLM.MaxTokens,
		BaseURL:   cfg.LLM.BaseURL,
	})
}

// Run for VersionCmd is a no-op; main prints before dispatch.
func (c *VersionCmd) Run(a *app) error { return nil }
