package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/jarvis/internal/sessions"
)

// RunCleanup condenses every session except excludeID.
func (s *Server) RunCleanup(ctx context.Context, excludeID string, minMessages int) (*sessions.CleanupReport, error) {
	if s.cleaner == nil {
		return nil, errors.New("session cleanup is not configured")
	}
	return s.cleaner.CleanupOlderSessions(ctx, excludeID, minMessages)
}

// runScheduledCleanup keeps the most recently active session and condenses
// the rest.
func (s *Server) runScheduledCleanup(ctx context.Context) {
	latest, _, err := s.store.Latest(ctx)
	if err != nil {
		s.logger.Error(ctx, "scheduled cleanup: failed to find latest session", "error", err)
		return
	}
	report, err := s.RunCleanup(ctx, latest, s.config.Cleanup.MinMessages)
	if err != nil {
		s.logger.Error(ctx, "scheduled cleanup failed", "error", err)
		return
	}
	s.logger.Info(ctx, "scheduled cleanup finished",
		"kept", latest,
		"summarized", report.SessionsSummarized,
		"deleted", report.SessionsDeleted,
		"errors", len(report.Errors))
}

func (s *Server) startScheduler() error {
	if !s.config.Cleanup.Enabled || s.cleaner == nil {
		return nil
	}
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(s.config.Cleanup.Schedule, func() { s.runScheduledCleanup(s.ctx) }); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", s.config.Cleanup.Schedule, err)
	}
	scheduler.Start()
	s.scheduler = scheduler
	s.logger.Info(s.ctx, "scheduled session cleanup", "schedule", s.config.Cleanup.Schedule)
	return nil
}
