// Package main provides the CLI entry point for the Nexus agent runtime.
//
// Nexus runs a configurable agentic loop — tool execution, cost guarding,
// prompt assembly, and approval gating — behind an HTTP API that projects,
// sessions, and inbound channel webhooks all talk to.
//
// # Basic Usage
//
// Start the server:
//
//	nexus serve --config nexus.yaml
//
// The --config flag defaults to nexus.yaml.
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: LLM provider credentials
//   - CHATWOOT_WEBHOOK_SECRET, WHATSAPP_VERIFY_TOKEN: inbound webhook secrets
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

// main is the entry point for the Nexus CLI.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "Nexus - agentic runtime and HTTP API",
		Long: `Nexus runs an agentic loop behind an HTTP API: chat turns, session
and approval management, tool catalogs, and inbound channel webhooks.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
	)

	return rootCmd
}
