package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the chat server.
func buildServeCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long: `Start the WebSocket chat endpoint and the HTTP API.

The server will:
  1. Open the session store (running migrations when migrate_on_start is set)
  2. Build the configured LLM providers and the tool dispatcher
  3. Serve /ws/{session_id}, /api/* and /metrics
  4. Run scheduled session cleanup when cleanup.enabled is set

Send SIGINT or SIGTERM for a graceful shutdown.`,
		Example: `  # Start with the default jarvis.yaml
  jarvis serve

  # Start with a specific file and debug logging
  jarvis serve --config /etc/jarvis/jarvis.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildMigrateCmd creates the "migrate" command group.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Manage the session store schema.

Migrations are embedded per dialect (postgres, sqlite) and tracked in the
schema_migrations table. The memory driver has no schema.`,
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply (0 = all)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd)
		},
	}
}

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and condense stored sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsLatestCmd(),
		buildSessionsHistoryCmd(),
		buildSessionsCleanupCmd(),
		buildSessionsSummariesCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		limit    int
		archived bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, limit, archived)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sessions to show")
	cmd.Flags().BoolVar(&archived, "archived", false, "Include summarized sessions")
	return cmd
}

func buildSessionsLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the most recently active session id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsLatest(cmd)
		},
	}
}

func buildSessionsHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsHistory(cmd, args[0], limit, asJSON)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Newest messages to show (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print messages as JSON")
	return cmd
}

func buildSessionsCleanupCmd() *cobra.Command {
	var (
		exclude     string
		minMessages int
		keepLatest  bool
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Summarize or delete inactive sessions",
		Long: `Condense every session except the excluded one.

Sessions with fewer than --min-messages messages are deleted. Longer ones are
summarized by the summarizer provider and replaced with a single summary
message. Sessions that already hold only a summary are left alone.`,
		Example: `  # Keep the current conversation, condense the rest
  jarvis sessions cleanup --exclude 6f1c...

  # Keep whichever session was active last
  jarvis sessions cleanup --keep-latest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsCleanup(cmd, exclude, minMessages, keepLatest)
		},
	}
	cmd.Flags().StringVar(&exclude, "exclude", "", "Session id to leave untouched")
	cmd.Flags().IntVar(&minMessages, "min-messages", 0, "Delete sessions shorter than this (0 = cleanup.min_messages)")
	cmd.Flags().BoolVar(&keepLatest, "keep-latest", false, "Exclude the most recently active session")
	cmd.MarkFlagsMutuallyExclusive("exclude", "keep-latest")
	return cmd
}

func buildSessionsSummariesCmd() *cobra.Command {
	var (
		limit int
		topic string
	)
	cmd := &cobra.Command{
		Use:   "summaries",
		Short: "List stored session summaries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsSummaries(cmd, limit, topic)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum summaries to show")
	cmd.Flags().StringVar(&topic, "topic", "", "Only summaries tagged with this topic")
	return cmd
}

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools offered to the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print definitions with their parameter schemas as JSON")
	return cmd
}

// buildTokenCmd creates the "token" command that mints a client JWT.
func buildTokenCmd() *cobra.Command {
	var (
		subject string
		name    string
		expiry  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API and WebSocket",
		Long: `Issue a token signed with server.auth.jwt_secret.

Clients send it as "Authorization: Bearer <token>" or, for browsers opening a
WebSocket, as the ?token= query parameter.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, subject, name, expiry)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name carried in the token")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (0 = server.auth.token_expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jarvis %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
