package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/jarvis/pkg/models"
)

var (
	// ErrSessionNotFound is returned for ids that were never created or were deleted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWriteConflict is returned when a write still conflicts after its retry.
	ErrWriteConflict = errors.New("session store write conflict")

	// ErrInvalidToolReference is returned when a tool message does not answer
	// a tool call made by an earlier assistant message in the same session.
	ErrInvalidToolReference = errors.New("tool message references unknown tool call")

	// ErrInvalidMessage is returned for messages that can never be stored.
	ErrInvalidMessage = errors.New("invalid message")
)

// staleSummaryError reports a summary that no longer covers the whole log.
func staleSummaryError(sessionID string, throughSeq int64) error {
	return fmt.Errorf("%w: session %s has messages after seq %d", ErrWriteConflict, sessionID, throughSeq)
}

// Store persists sessions and their ordered message logs.
//
// Implementations serialize writes per session and assign message Seq
// values; callers never set Seq themselves.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	// GetOrCreate returns the session with id, creating it if needed. An
	// empty id always creates a new session.
	GetOrCreate(ctx context.Context, id string) (*models.Session, error)
	Exists(ctx context.Context, id string) (bool, error)
	// Touch bumps LastActivity and un-archives the session.
	Touch(ctx context.Context, id string) error
	// Delete removes the session together with its messages and summary.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)
	// Latest returns the most recently active non-archived session id.
	Latest(ctx context.Context) (string, bool, error)

	// Message log
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	// GetHistory returns the newest limit messages in Seq order; limit <= 0 returns all.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// Summaries
	// ReplaceWithSummary atomically swaps the session's messages for msg,
	// stores summary and archives the session. throughSeq is the Seq of the
	// last message the summary covers; if the session has newer messages the
	// call changes nothing and fails with ErrWriteConflict.
	ReplaceWithSummary(ctx context.Context, summary *models.ChatSummary, msg *models.Message, throughSeq int64) error
	GetSummary(ctx context.Context, sessionID string) (*models.ChatSummary, error)
	ListSummaries(ctx context.Context, opts SummaryListOptions) ([]*models.ChatSummary, error)

	Close() error
}

// ListOptions configures session listing. Results are ordered by LastActivity
// descending, then Seq descending.
type ListOptions struct {
	IncludeArchived bool
	Limit           int
	Offset          int
}

// SummaryListOptions configures summary listing, newest first.
type SummaryListOptions struct {
	Limit int
	Topic string
}

// SelectLatest picks the non-archived session with the greatest LastActivity.
// Exact ties go to the session created last (highest Seq). It returns nil when
// no candidate exists.
func SelectLatest(candidates []*models.Session) *models.Session {
	var best *models.Session
	for _, s := range candidates {
		if s == nil || s.Archived {
			continue
		}
		if best == nil || newerThan(s, best) {
			best = s
		}
	}
	return best
}

func newerThan(a, b *models.Session) bool {
	if !a.LastActivity.Equal(b.LastActivity) {
		return a.LastActivity.After(b.LastActivity)
	}
	return a.Seq > b.Seq
}

// validateMessage checks the fields a caller controls.
func validateMessage(msg *models.Message) error {
	if msg == nil {
		return errors.Join(ErrInvalidMessage, errors.New("message is required"))
	}
	if !msg.Role.Valid() {
		return errors.Join(ErrInvalidMessage, errors.New("unsupported role "+string(msg.Role)))
	}
	switch msg.Role {
	case models.RoleTool:
		if strings.TrimSpace(msg.ToolCallID) == "" {
			return errors.Join(ErrInvalidToolReference, errors.New("tool_call_id is required"))
		}
	case models.RoleAssistant:
		for _, tc := range msg.ToolCalls {
			if strings.TrimSpace(tc.ID) == "" {
				return errors.Join(ErrInvalidMessage, errors.New("tool call id is required"))
			}
		}
	default:
		if len(msg.ToolCalls) > 0 {
			return errors.Join(ErrInvalidMessage, errors.New("only assistant messages carry tool calls"))
		}
	}
	return nil
}

// Preview truncates s to at most n runes for summary previews.
func Preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func cloneSession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Metadata = cloneMap(s.Metadata)
	return &clone
}

func cloneMessage(m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Metadata = cloneMap(m.Metadata)
	if m.ToolCalls != nil {
		clone.ToolCalls = make([]models.ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tc.Input = append([]byte(nil), tc.Input...)
			clone.ToolCalls[i] = tc
		}
	}
	return &clone
}

func cloneSummary(s *models.ChatSummary) *models.ChatSummary {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Topics = append([]string(nil), s.Topics...)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
