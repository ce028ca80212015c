package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/jarvis/internal/auth"
	"github.com/haasonsaas/jarvis/internal/config"
	"github.com/haasonsaas/jarvis/internal/gateway"
	"github.com/haasonsaas/jarvis/internal/sessions"
	"github.com/haasonsaas/jarvis/internal/tools"
)

const closeTimeout = 10 * time.Second

// runServe builds every component and serves until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, debug)
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Warn(closeCtx, "shutdown cleanup failed", "error", err)
		}
	}()

	if err := a.openObservability(); err != nil {
		return err
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openLocker(ctx); err != nil {
		return err
	}
	if err := a.openProviders(); err != nil {
		return err
	}
	if err := a.openTools(); err != nil {
		return err
	}
	if err := a.openOrchestrator(); err != nil {
		return err
	}
	a.openCleaner()

	srv, err := gateway.New(cfg, gateway.Deps{
		Orchestrator: a.orch,
		Store:        a.store,
		Cleaner:      a.cleaner,
		Tools:        a.dispatcher,
		Model:        chatModel(a),
		Metrics:      a.metrics,
		Gatherer:     a.registry,
		Tracer:       a.tracer,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info(ctx, "starting jarvis",
		"version", version,
		"commit", commit,
		"provider", a.providers.Chat.Name(),
		"model", chatModel(a),
		"tools", len(a.dispatcher.ListSchemas()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.Tools.WatchManifest && strings.TrimSpace(cfg.Tools.Manifest) != "" {
		watcher := tools.NewManifestWatcher(cfg.Tools.Manifest, a.dispatcher,
			tools.WithWatchLogger(logger),
			tools.WithDisabledTools(cfg.Tools.Disabled),
		)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info(context.Background(), "jarvis stopped")
	return nil
}

func chatModel(a *app) string {
	if a.providers.ChatModel != "" {
		return a.providers.ChatModel
	}
	return a.providers.Chat.Name()
}

// openMigrator connects to the configured SQL database. The caller closes db.
func openMigrator(ctx context.Context, cfg *config.Config) (*sessions.Migrator, func() error, error) {
	if cfg.Database.Driver == "" || cfg.Database.Driver == "memory" {
		return nil, nil, errors.New("migrations need a SQL database; database.driver is memory")
	}
	db, dialect, err := sessions.OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := sessions.NewMigrator(db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return migrator, db.Close, nil
}

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, steps int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Info("running database migrations", "driver", cfg.Database.Driver, "steps", steps)

	migrator, closeDB, err := openMigrator(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		slog.Info("applied migration", "id", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", len(applied))
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, steps int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Warn("rolling back migrations", "driver", cfg.Database.Driver, "steps", steps)

	migrator, closeDB, err := openMigrator(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
		return nil
	}
	for _, id := range rolled {
		slog.Info("rolled back migration", "id", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s).\n", len(rolled))
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	migrator, closeDB, err := openMigrator(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}
	printMigrationStatus(cmd.OutOrStdout(), applied, pending)
	return nil
}

func printMigrationStatus(out io.Writer, applied []sessions.AppliedMigration, pending []sessions.Migration) {
	fmt.Fprintln(out, "Migration Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tAPPLIED AT")
	for _, m := range applied {
		fmt.Fprintf(w, "%s\tapplied\t%s\n", m.ID, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "%s\tpending\t-\n", m.ID)
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d applied, %d pending\n", len(applied), len(pending))
}

// openMaintenanceApp opens the configured store for the sessions commands.
func openMaintenanceApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := newApp(cfg, newLogger(cfg, false))
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.close(ctx); err != nil {
		slog.Warn("failed to close session store", "error", err)
	}
}

func runSessionsList(cmd *cobra.Command, limit int, archived bool) error {
	a, err := openMaintenanceApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	list, err := a.store.List(cmd.Context(), sessions.ListOptions{IncludeArchived: archived, Limit: limit})
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMESSAGES\tLAST ACTIVITY\tARCHIVED")
	for _, s := range list {
		count, err := a.store.CountMessages(cmd.Context(), s.ID)
		if err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", s.ID, count, s.LastActivity.Local().Format(time.DateTime), s.Archived)
	}
	return w.Flush()
}

func runSessionsLatest(cmd *cobra.Command) error {
	a, err := openMaintenanceApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	id, ok, err := a.store.Latest(cmd.Context())
	if err != nil {
		return fmt.Errorf("latest session: %w", err)
	}
	if !ok {
		return errors.New("no active sessions")
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runSessionsHistory(cmd *cobra.Command, sessionID string, limit int, asJSON bool) error {
	a, err := openMaintenanceApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	exists, err := a.store.Exists(cmd.Context(), sessionID)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return fmt.Errorf("session %s not found", sessionID)
	}
	history, err := a.store.GetHistory(cmd.Context(), sessionID, limit)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return writeIndentedJSON(out, history)
	}
	for _, msg := range history {
		fmt.Fprintf(out, "[%d] %s %s: %s\n", msg.Seq, msg.CreatedAt.Local().Format(time.DateTime), msg.Role, msg.Content)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(out, "      -> %s %s\n", call.Name, string(call.Input))
		}
	}
	return nil
}

func runSessionsCleanup(cmd *cobra.Command, exclude string, minMessages int, keepLatest bool) error {
	a, err := openMaintenanceApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)
	if err := a.openProviders(); err != nil {
		return err
	}
	a.openCleaner()

	if keepLatest {
		id, ok, err := a.store.Latest(cmd.Context())
		if err != nil {
			return fmt.Errorf("latest session: %w", err)
		}
		if ok {
			exclude = id
		}
	}
	if minMessages <= 0 {
		minMessages = a.cfg.Cleanup.MinMessages
	}

	report, err := a.cleaner.CleanupOlderSessions(cmd.Context(), exclude, minMessages)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Found %d session(s): %d summarized, %d deleted, %d skipped\n",
		report.SessionsFound, report.SessionsSummarized, report.SessionsDeleted, report.SessionsSkipped)
	for _, msg := range report.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("cleanup finished with %d error(s)", len(report.Errors))
	}
	return nil
}

func runSessionsSummaries(cmd *cobra.Command, limit int, topic string) error {
	a, err := openMaintenanceApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(a)

	summaries, err := a.store.ListSummaries(cmd.Context(), sessions.SummaryListOptions{Limit: limit, Topic: topic})
	if err != nil {
		return fmt.Errorf("list summaries: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No summaries found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMESSAGES\tENDED\tTOPICS\tSUMMARY")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			s.SessionID,
			s.MessageCount,
			s.SessionEndedAt.Local().Format(time.DateTime),
			strings.Join(s.Topics, ","),
			sessions.Preview(s.Summary, 80),
		)
	}
	return w.Flush()
}

func runToolsList(cmd *cobra.Command, asJSON bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a := newApp(cfg, newLogger(cfg, false))
	if err := a.openTools(); err != nil {
		return err
	}

	defs := a.dispatcher.ListSchemas()
	if asJSON {
		return writeIndentedJSON(cmd.OutOrStdout(), defs)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tDESCRIPTION")
	for _, def := range defs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, def.Kind, sessions.Preview(def.Description, 80))
	}
	return w.Flush()
}

func runToken(cmd *cobra.Command, subject, name string, expiry time.Duration) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if expiry <= 0 {
		expiry = cfg.Server.Auth.TokenExpiry
	}
	jwtService := auth.NewJWTService(cfg.Server.Auth.JWTSecret, expiry)
	if !jwtService.Enabled() {
		return errors.New("server.auth.jwt_secret is not set")
	}
	token, err := jwtService.Generate(subject, name)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func writeIndentedJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
