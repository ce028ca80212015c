package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/jarvis/internal/observability"
	"github.com/haasonsaas/jarvis/pkg/models"
)

const previewLength = 200

// SummaryResult is what a Summarizer extracts from a transcript.
type SummaryResult struct {
	Summary string
	Topics  []string
}

// Summarizer condenses a session transcript.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (SummaryResult, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, messages []*models.Message) (SummaryResult, error)

func (f SummarizerFunc) Summarize(ctx context.Context, messages []*models.Message) (SummaryResult, error) {
	return f(ctx, messages)
}

// CleanupReport describes one cleanup run.
type CleanupReport struct {
	SessionsFound      int      `json:"sessions_found"`
	SessionsSummarized int      `json:"sessions_summarized"`
	SessionsDeleted    int      `json:"sessions_deleted"`
	SessionsSkipped    int      `json:"sessions_skipped"`
	Errors             []string `json:"errors"`
}

// Cleaner condenses every inactive session: short ones are deleted, longer
// ones are replaced by a single summary message and archived.
type Cleaner struct {
	store      Store
	summarizer Summarizer
	busy       func(sessionID string) bool
	locker     Locker
	metrics    *observability.Metrics
	logger     *observability.Logger
	now        func() time.Time
}

type CleanerOption func(*Cleaner)

// WithBusyCheck skips sessions for which fn reports an active turn.
func WithBusyCheck(fn func(sessionID string) bool) CleanerOption {
	return func(c *Cleaner) { c.busy = fn }
}

// WithCleanerLocker holds the session lock while a session is deleted or
// replaced, so a turn holding the same Locker is never overwritten.
func WithCleanerLocker(l Locker) CleanerOption {
	return func(c *Cleaner) { c.locker = l }
}

func WithCleanerMetrics(m *observability.Metrics) CleanerOption {
	return func(c *Cleaner) { c.metrics = m }
}

func WithCleanerLogger(l *observability.Logger) CleanerOption {
	return func(c *Cleaner) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCleaner(store Store, summarizer Summarizer, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		store:      store,
		summarizer: summarizer,
		logger:     observability.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CleanupOlderSessions processes every non-archived session except excludeID.
// Archived sessions are never revisited, so a second run over the same data
// changes nothing. Per-session failures are collected in the report; only a
// failure to list sessions aborts the run.
func (c *Cleaner) CleanupOlderSessions(ctx context.Context, excludeID string, minMessages int) (*CleanupReport, error) {
	if minMessages < 1 {
		minMessages = 1
	}
	candidates, err := c.store.List(ctx, ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	report := &CleanupReport{Errors: []string{}}
	for _, session := range candidates {
		if session.ID == excludeID || session.Archived {
			continue
		}
		report.SessionsFound++

		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("cleanup interrupted: %v", err))
			break
		}
		if c.busy != nil && c.busy(session.ID) {
			report.SessionsSkipped++
			continue
		}

		action, err := c.cleanupSession(ctx, session, minMessages)
		if err != nil {
			c.logger.Warn(ctx, "session cleanup failed", "session_id", session.ID, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("session %s: %v", session.ID, err))
			continue
		}
		switch action {
		case "summarized":
			report.SessionsSummarized++
		case "deleted":
			report.SessionsDeleted++
		case "skipped":
			report.SessionsSkipped++
		}
	}

	c.metrics.RecordCleanup("summarized", report.SessionsSummarized)
	c.metrics.RecordCleanup("deleted", report.SessionsDeleted)
	c.metrics.RecordCleanup("skipped", report.SessionsSkipped)
	c.metrics.RecordCleanup("failed", len(report.Errors))
	c.logger.Info(ctx, "session cleanup complete",
		"exclude_session_id", excludeID,
		"found", report.SessionsFound,
		"summarized", report.SessionsSummarized,
		"deleted", report.SessionsDeleted,
		"skipped", report.SessionsSkipped,
		"errors", len(report.Errors))
	return report, nil
}

func (c *Cleaner) cleanupSession(ctx context.Context, session *models.Session, minMessages int) (string, error) {
	history, err := c.store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return "", err
	}
	if len(history) < minMessages {
		return c.deleteShort(ctx, session.ID, len(history))
	}
	if c.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	result, err := c.summarizer.Summarize(ctx, history)
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	text := strings.TrimSpace(result.Summary)
	if text == "" {
		return "", fmt.Errorf("summarizer returned an empty summary")
	}

	first, last := history[0], history[len(history)-1]
	summary := &models.ChatSummary{
		SessionID:           session.ID,
		Summary:             text,
		Topics:              result.Topics,
		MessageCount:        len(history),
		SessionCreatedAt:    session.CreatedAt,
		SessionEndedAt:      last.CreatedAt,
		FirstMessagePreview: Preview(first.Content, previewLength),
		LastMessagePreview:  Preview(last.Content, previewLength),
		CreatedAt:           c.now(),
	}
	msg := &models.Message{
		Role:    models.RoleAssistant,
		Content: "Summary of earlier conversation: " + text,
		Metadata: map[string]any{
			models.MetaKind:   models.MetaKindSummary,
			models.MetaTopics: append([]string(nil), result.Topics...),
		},
	}

	// The summarizer may have taken a while; a turn that started meanwhile
	// wins and the session is left for the next run.
	unlock, ok, err := c.lock(ctx, session.ID)
	if err != nil || !ok {
		return "skipped", err
	}
	defer unlock()
	err = c.store.ReplaceWithSummary(ctx, summary, msg, last.Seq)
	if errors.Is(err, ErrWriteConflict) {
		c.logger.Info(ctx, "session changed while summarizing, skipping", "session_id", session.ID)
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	return "summarized", nil
}

// deleteShort removes a session that is below the summary threshold unless
// it gained messages since it was read.
func (c *Cleaner) deleteShort(ctx context.Context, sessionID string, seen int) (string, error) {
	unlock, ok, err := c.lock(ctx, sessionID)
	if err != nil || !ok {
		return "skipped", err
	}
	defer unlock()
	n, err := c.store.CountMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if n != seen {
		return "skipped", nil
	}
	if err := c.store.Delete(ctx, sessionID); err != nil {
		return "", err
	}
	return "deleted", nil
}

// lock takes the session lock when a Locker is configured. ok is false when
// the session became busy; a lock timeout counts as busy.
func (c *Cleaner) lock(ctx context.Context, sessionID string) (unlock func(), ok bool, err error) {
	if c.busy != nil && c.busy(sessionID) {
		return nil, false, nil
	}
	if c.locker == nil {
		return func() {}, true, nil
	}
	if err := c.locker.Lock(ctx, sessionID); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to lock session: %w", err)
	}
	return func() { c.locker.Unlock(sessionID) }, true, nil
}
