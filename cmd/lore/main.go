// Package main provides the CLI entry point for lore, an agent that explores
// a code base and captures what a new contributor should know about it.
//
// # Basic Usage
//
// Explore the current project:
//
//	lore run --config lore.yaml "Document how configuration is loaded"
//
// Inspect what the agent can call:
//
//	lore tools
//
// Review past sessions:
//
//	lore transcripts list
//	lore transcripts show <session-id>
//
// # Environment Variables
//
// Configuration files may reference environment variables with ${NAME}:
//
//   - LORE_CONFIG: Path to configuration file (default: lore.yaml)
//   - ANTHROPIC_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY: typical api_key sources
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/lore/internal/observability"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(observability.NewLogger(observability.LogConfig{Level: "warn"}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := buildRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lore",
		Short: "lore - capture project knowledge with an exploring agent",
		Long: `lore runs an LLM agent over a code base. The agent explores with read-only
tools, submits knowledge candidates, and ends with a written summary.

Supported LLM providers: Anthropic, Gemini, OpenAI`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildTranscriptsCmd(),
		buildEmbedCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("LORE_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}
