// Package main provides the CLI entry point for steward, an autonomous
// task-execution engine.
//
// Steward drives an LLM through a task: the model plans, calls tools, and
// the engine executes them concurrently behind a permission gate, feeding
// results back until the task completes.
//
// # Basic Usage
//
// Run a task:
//
//	steward run "summarize the files in ./docs"
//
// List registered tools:
//
//	steward tools
//
// Validate a configuration file:
//
//	steward validate --config steward.yaml
//
// # Environment Variables
//
// API keys can be provided via environment variables instead of the config
// file:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GOOGLE_API_KEY: Google API key for Gemini models
//   - AWS credential chain: Bedrock authentication
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "steward",
		Short: "Steward - autonomous task execution engine",
		Long: `Steward drives an LLM through a task with gated tool execution.

Supported providers: Anthropic (Claude), OpenAI (GPT), Google (Gemini), AWS Bedrock
Tool calls are classified safe/sensitive/dangerous; dangerous calls require
interactive approval before they run.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildToolsCmd(),
		buildValidateCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
