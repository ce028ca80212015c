package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/agent/providers"
	"github.com/haasonsaas/jarvis/internal/config"
	"github.com/haasonsaas/jarvis/internal/observability"
	"github.com/haasonsaas/jarvis/internal/sessions"
	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/internal/tools/builtin"
)

// app holds the components shared by serve and the maintenance commands.
// Fields stay nil when a command does not need them.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	store      sessions.Store
	locker     sessions.Locker
	providers  *providers.Set
	dispatcher *tools.Dispatcher
	orch       *agent.Orchestrator
	cleaner    *sessions.Cleaner

	closers []func(context.Context) error
}

func newLogger(cfg *config.Config, debug bool) *observability.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:          level,
		Format:         cfg.Logging.Format,
		Output:         os.Stderr,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
}

// newApp wires only the observability stack. Components are added by the
// open* methods so a command builds no more than it uses.
func newApp(cfg *config.Config, logger *observability.Logger) *app {
	return &app{cfg: cfg, logger: logger}
}

func (a *app) openObservability() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	tracer, shutdown, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    a.cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    a.cfg.Tracing.Environment,
		Endpoint:       a.cfg.Tracing.Endpoint,
		SamplingRate:   a.cfg.Tracing.SamplingRate,
		Attributes:     a.cfg.Tracing.Attributes,
		Insecure:       a.cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer
	a.closers = append(a.closers, shutdown)
	return nil
}

func (a *app) openStore(ctx context.Context) error {
	store, err := sessions.Open(ctx, a.cfg.Database,
		sessions.WithMetrics(a.metrics),
		sessions.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	a.logger.Info(ctx, "session store ready", "driver", a.cfg.Database.Driver)
	return nil
}

// openLocker picks the lease locker when several processes share a SQL
// database, and the in-process locker otherwise.
func (a *app) openLocker(ctx context.Context) error {
	locks := a.cfg.SessionLocks
	sqlStore, isSQL := a.store.(*sessions.SQLStore)
	if locks.Enabled && isSQL {
		locker, err := sessions.NewDBLocker(sqlStore.DB(), sessions.DBLockerConfig{
			OwnerID:         locks.OwnerID,
			TTL:             locks.TTL,
			RefreshInterval: locks.RefreshInterval,
			AcquireTimeout:  locks.AcquireTimeout,
			PollInterval:    locks.PollInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to create session locker: %w", err)
		}
		a.locker = locker
		// Registered after the store closer, so it runs first.
		a.closers = append(a.closers, func(context.Context) error { return locker.Close() })
		a.logger.Info(ctx, "using database session locks", "owner", locks.OwnerID)
		return nil
	}
	if locks.Enabled {
		a.logger.Warn(ctx, "session_locks.enabled has no effect with the memory store")
	}
	a.locker = sessions.NewLocalLocker(locks.AcquireTimeout)
	return nil
}

func (a *app) openProviders() error {
	set, err := providers.FromConfig(a.cfg.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM providers: %w", err)
	}
	a.providers = set
	return nil
}

func (a *app) openTools() error {
	toolsCfg := a.cfg.Tools
	remote, err := tools.NewRemoteClient(tools.RemoteConfig{
		Endpoint:         toolsCfg.Remote.Endpoint,
		Timeout:          toolsCfg.Remote.Timeout,
		MaxResponseBytes: toolsCfg.Remote.MaxResponseBytes,
		Headers:          toolsCfg.Remote.Headers,
	})
	if err != nil {
		return err
	}
	d := tools.NewDispatcher(
		tools.WithRemoteClient(remote),
		tools.WithLocalTimeout(toolsCfg.Timeout),
		tools.WithMetrics(a.metrics),
		tools.WithTracer(a.tracer),
		tools.WithLogger(a.logger),
	)
	if err := builtin.Register(d, builtin.Options{
		DefaultTimezone: toolsCfg.DefaultTimezone,
		Disabled:        toolsCfg.Disabled,
	}); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	defs, err := tools.RemoteDefinitions(toolsCfg.Manifest, toolsCfg.Disabled)
	if err != nil {
		return fmt.Errorf("failed to load tool manifest: %w", err)
	}
	if err := d.ReplaceRemote(defs); err != nil {
		return fmt.Errorf("failed to register remote tools: %w", err)
	}
	a.dispatcher = d
	return nil
}

func (a *app) openOrchestrator() error {
	loc, err := time.LoadLocation(a.cfg.Tools.DefaultTimezone)
	if err != nil {
		return fmt.Errorf("invalid tools.default_timezone: %w", err)
	}
	orch, err := agent.New(a.providers.Chat, a.store, a.dispatcher, &agent.Config{
		Model:             a.providers.ChatModel,
		SystemPrompt:      a.cfg.LLM.SystemPrompt,
		MaxTokens:         a.cfg.LLM.MaxTokens,
		MaxToolIterations: a.cfg.Orchestrator.MaxToolIterations,
		TurnTimeout:       a.cfg.Orchestrator.TurnTimeout,
		HistoryLimit:      a.cfg.Orchestrator.HistoryLimit,
		ClassifyQueries:   a.cfg.Tools.ClassifyQueries,
		Location:          loc,
	},
		agent.WithTurnRegistry(agent.NewTurnRegistry(a.locker)),
		agent.WithMetrics(a.metrics),
		agent.WithTracer(a.tracer),
		agent.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.orch = orch
	return nil
}

func (a *app) openCleaner() {
	opts := []sessions.CleanerOption{
		sessions.WithCleanerMetrics(a.metrics),
		sessions.WithCleanerLogger(a.logger),
	}
	if a.locker != nil {
		opts = append(opts, sessions.WithCleanerLocker(a.locker))
	}
	if a.orch != nil {
		opts = append(opts, sessions.WithBusyCheck(a.orch.IsBusy))
	}
	summarizer := agent.NewLLMSummarizer(a.providers.Summarizer, a.providers.SummarizerModel)
	a.cleaner = sessions.NewCleaner(a.store, summarizer, opts...)
}

// close releases components in reverse order of creation.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
