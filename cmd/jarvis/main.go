// Package main provides the jarvis command line: the chat server and the
// maintenance commands around its session store.
//
// # Basic Usage
//
// Start the server:
//
//	jarvis serve --config jarvis.yaml
//
// Manage database migrations:
//
//	jarvis migrate up
//	jarvis migrate status
//
// Condense old sessions by hand:
//
//	jarvis sessions cleanup --exclude <session-id>
//
// # Environment Variables
//
//   - JARVIS_CONFIG: Path to configuration file (default: jarvis.yaml)
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY: provider keys
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/jarvis/internal/config"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "jarvis.yaml"

var configPath string

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
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jarvis",
		Short: "Jarvis - streaming chat assistant server",
		Long: `Jarvis streams LLM replies to browser clients over WebSocket, runs the
tools the model asks for, and condenses old conversations into summaries.

Supported LLM providers: OpenAI (and compatible servers such as Ollama),
Anthropic, Google Gemini, and n8n-style chat webhooks.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file (or set JARVIS_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildSessionsCmd(),
		buildToolsCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers the flag, then JARVIS_CONFIG, then jarvis.yaml.
func resolveConfigPath(path string) (resolved string, explicit bool) {
	if p := strings.TrimSpace(path); p != "" {
		return p, true
	}
	if p := strings.TrimSpace(os.Getenv("JARVIS_CONFIG")); p != "" {
		return p, true
	}
	return defaultConfigName, false
}

// loadConfig loads the resolved configuration file. A missing default file
// falls back to the built-in defaults; a missing explicit file is an error.
func loadConfig(path string) (*config.Config, error) {
	resolved, explicit := resolveConfigPath(path)
	if !explicit {
		if _, err := os.Stat(resolved); errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found, using defaults", "path", resolved)
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
