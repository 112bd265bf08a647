package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const defaultConfigName = "steward.yaml"

// buildRunCmd creates the "run" command that executes one task.
func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run a task to completion",
		Long: `Run a task: the model plans, calls tools, and the engine executes them
behind the permission gate until the task completes.

Safe tool calls run immediately. Sensitive calls run when
--auto-approve-sensitive is set (or the config enables it), otherwise they
prompt. Dangerous calls always prompt; unanswered prompts are denied when
the approval window expires, and the task continues with the denial folded
in as a tool failure.`,
		Example: `  # Run with keys from the environment
  steward run "summarize the files in ./docs"

  # Pick the provider and model explicitly
  steward run --provider openai --model gpt-4o "rename foo to bar in main.go"

  # Stream machine-readable events
  steward run --json "list the largest files here"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.prompt = strings.Join(args, " ")
			return runTask(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")
	cmd.Flags().StringVar(&opts.provider, "provider", "",
		"Provider id (anthropic, openai, google, bedrock); overrides the config")
	cmd.Flags().StringVar(&opts.model, "model", "",
		"Model name; overrides the provider default")
	cmd.Flags().StringVar(&opts.system, "system", "",
		"System prompt")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0,
		"Maximum model calls per task; overrides the config")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0,
		"Maximum output tokens per model call")
	cmd.Flags().BoolVar(&opts.autoApproveSensitive, "auto-approve-sensitive", false,
		"Run sensitive-tier tools without prompting")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false,
		"Emit the event stream as JSON lines instead of rendered text")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// buildToolsCmd creates the "tools" command listing registered capabilities.
func buildToolsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered tools and their permission tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTools(cmd.OutOrStdout(), jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	return cmd
}

// buildValidateCmd creates the "validate" command for config checking.
func buildValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName,
		"Path to YAML configuration file")

	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "steward %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
