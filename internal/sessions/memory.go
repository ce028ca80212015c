package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and
// single-process runs. A single mutex serializes all writes, which also
// satisfies per-session write ordering.
type MemoryStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	nextSeq   int64
	sessions  map[string]*models.Session
	messages  map[string][]*models.Message
	toolCalls map[string]map[string]bool
	summaries map[string]*models.ChatSummary
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		now:       time.Now,
		sessions:  map[string]*models.Session{},
		messages:  map[string][]*models.Message{},
		toolCalls: map[string]map[string]bool{},
		summaries: map[string]*models.ChatSummary{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID != "" {
		if _, ok := m.sessions[session.ID]; ok {
			return fmt.Errorf("session already exists: %s", session.ID)
		}
	}
	m.insertLocked(session)
	return nil
}

// insertLocked assigns generated fields and stores a copy. The caller's
// session is updated in place.
func (m *MemoryStore) insertLocked(session *models.Session) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = m.now()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	m.nextSeq++
	session.Seq = m.nextSeq
	m.sessions[session.ID] = cloneSession(session)
	m.toolCalls[session.ID] = map[string]bool{}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if session, ok := m.sessions[id]; ok {
			return cloneSession(session), nil
		}
	}
	session := &models.Session{ID: id}
	m.insertLocked(session)
	return session, nil
}

func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok, nil
}

func (m *MemoryStore) Touch(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.touchLocked(session)
	return nil
}

func (m *MemoryStore) touchLocked(session *models.Session) {
	now := m.now()
	if now.After(session.LastActivity) {
		session.LastActivity = now
	}
	session.Archived = false
	session.ArchivedAt = time.Time{}
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	delete(m.toolCalls, id)
	delete(m.summaries, id)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	m.mu.RLock()
	out := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Archived && !opts.IncludeArchived {
			continue
		}
		out = append(out, cloneSession(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newerThan(out[i], out[j]) })
	return paginate(out, opts.Offset, opts.Limit), nil
}

func (m *MemoryStore) Latest(ctx context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	latest := SelectLatest(candidates)
	if latest == nil {
		return "", false, nil
	}
	return latest.ID, true, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	calls := m.toolCalls[sessionID]
	if msg.Role == models.RoleTool && !calls[msg.ToolCallID] {
		return fmt.Errorf("%w: %s", ErrInvalidToolReference, msg.ToolCallID)
	}

	log := m.messages[sessionID]
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	msg.Seq = int64(len(log)) + 1
	if n := len(log); n > 0 && log[n-1].Seq >= msg.Seq {
		msg.Seq = log[n-1].Seq + 1
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	m.messages[sessionID] = append(log, cloneMessage(msg))
	for _, tc := range msg.ToolCalls {
		calls[tc.ID] = true
	}
	m.touchLocked(session)
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	log := m.messages[sessionID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]*models.Message, len(log))
	for i, msg := range log {
		out[i] = cloneMessage(msg)
	}
	return out, nil
}

func (m *MemoryStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return len(m.messages[sessionID]), nil
}

func (m *MemoryStore) ReplaceWithSummary(ctx context.Context, summary *models.ChatSummary, msg *models.Message, throughSeq int64) error {
	if summary == nil {
		return errors.New("summary is required")
	}
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.Role == models.RoleTool || len(msg.ToolCalls) > 0 {
		return fmt.Errorf("%w: summary must be a plain message", ErrInvalidMessage)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[summary.SessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, summary.SessionID)
	}

	var lastSeq int64
	if log := m.messages[session.ID]; len(log) > 0 {
		lastSeq = log[len(log)-1].Seq
	}
	if lastSeq > throughSeq {
		return staleSummaryError(session.ID, throughSeq)
	}

	now := m.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = session.ID
	msg.Seq = lastSeq + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	m.messages[session.ID] = []*models.Message{cloneMessage(msg)}
	m.toolCalls[session.ID] = map[string]bool{}

	stored := cloneSummary(summary)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	summary.CreatedAt = stored.CreatedAt
	m.summaries[session.ID] = stored

	session.Archived = true
	session.ArchivedAt = now
	return nil
}

func (m *MemoryStore) GetSummary(ctx context.Context, sessionID string) (*models.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneSummary(s), nil
}

func (m *MemoryStore) ListSummaries(ctx context.Context, opts SummaryListOptions) ([]*models.ChatSummary, error) {
	m.mu.RLock()
	out := make([]*models.ChatSummary, 0, len(m.summaries))
	for _, s := range m.summaries {
		if opts.Topic != "" && !hasTopicFold(s, opts.Topic) {
			continue
		}
		out = append(out, cloneSummary(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return paginate(out, 0, opts.Limit), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func hasTopicFold(s *models.ChatSummary, topic string) bool {
	for _, t := range s.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
