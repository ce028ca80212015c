package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/jarvis/pkg/models"
)

// fakeClock hands out microsecond-aligned times so SQL and memory stores
// compare equal after a round trip.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

// runStoreContract exercises behavior every Store implementation shares.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("history round trip", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		ctx := context.Background()

		session, err := store.GetOrCreate(ctx, "s1")
		if err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		if session.ID != "s1" || session.Seq == 0 {
			t.Fatalf("unexpected session: %+v", session)
		}

		input := json.RawMessage(`{"infoType":"disk"}`)
		msgs := []*models.Message{
			{Role: models.RoleUser, Content: "check disk usage"},
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "call-1", Name: "system_status", Input: input}}},
			{Role: models.RoleTool, ToolCallID: "call-1", Content: `{"disk":"42%"}`, Metadata: map[string]any{models.MetaToolName: "system_status"}},
			{Role: models.RoleAssistant, Content: "Disk is 42% full."},
		}
		for _, msg := range msgs {
			clock.Advance(time.Second)
			if err := store.AppendMessage(ctx, "s1", msg); err != nil {
				t.Fatalf("AppendMessage(%s) error = %v", msg.Role, err)
			}
			if msg.ID == "" || msg.SessionID != "s1" {
				t.Fatalf("AppendMessage did not assign fields: %+v", msg)
			}
		}

		history, err := store.GetHistory(ctx, "s1", 0)
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		if len(history) != len(msgs) {
			t.Fatalf("len(history) = %d, want %d", len(history), len(msgs))
		}
		for i, got := range history {
			want := msgs[i]
			if got.ID != want.ID || got.Role != want.Role || got.Content != want.Content || got.ToolCallID != want.ToolCallID {
				t.Errorf("history[%d] = %+v, want %+v", i, got, want)
			}
			if i > 0 && got.Seq <= history[i-1].Seq {
				t.Errorf("history[%d].Seq = %d not after %d", i, got.Seq, history[i-1].Seq)
			}
			if !got.CreatedAt.Equal(want.CreatedAt) {
				t.Errorf("history[%d].CreatedAt = %v, want %v", i, got.CreatedAt, want.CreatedAt)
			}
		}
		if len(history[1].ToolCalls) != 1 || string(history[1].ToolCalls[0].Input) != string(input) {
			t.Errorf("tool calls not preserved: %+v", history[1].ToolCalls)
		}
		if history[2].Metadata[models.MetaToolName] != "system_status" {
			t.Errorf("metadata not preserved: %+v", history[2].Metadata)
		}

		last, err := store.GetHistory(ctx, "s1", 2)
		if err != nil {
			t.Fatalf("GetHistory(limit) error = %v", err)
		}
		if len(last) != 2 || last[0].ID != msgs[2].ID || last[1].ID != msgs[3].ID {
			t.Fatalf("GetHistory(limit=2) returned wrong window")
		}

		n, err := store.CountMessages(ctx, "s1")
		if err != nil || n != 4 {
			t.Fatalf("CountMessages() = %d, %v; want 4", n, err)
		}

		got, err := store.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !got.LastActivity.Equal(clock.Now()) {
			t.Fatalf("LastActivity = %v, want %v", got.LastActivity, clock.Now())
		}
	})

	t.Run("tool message must reference prior call", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}

		err := store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleTool, ToolCallID: "nope", Content: "x"})
		if !errors.Is(err, ErrInvalidToolReference) {
			t.Fatalf("AppendMessage() error = %v, want ErrInvalidToolReference", err)
		}
		err = store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleTool, Content: "x"})
		if !errors.Is(err, ErrInvalidToolReference) {
			t.Fatalf("AppendMessage(no id) error = %v, want ErrInvalidToolReference", err)
		}
		n, _ := store.CountMessages(ctx, "s1")
		if n != 0 {
			t.Fatalf("rejected messages were stored: count = %d", n)
		}
	})

	t.Run("tool call ids are scoped to their session", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		for _, id := range []string{"a", "b"} {
			if _, err := store.GetOrCreate(ctx, id); err != nil {
				t.Fatalf("GetOrCreate() error = %v", err)
			}
		}
		call := &models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "call-1", Name: "calculator"}}}
		if err := store.AppendMessage(ctx, "a", call); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		err := store.AppendMessage(ctx, "b", &models.Message{Role: models.RoleTool, ToolCallID: "call-1", Content: "4"})
		if !errors.Is(err, ErrInvalidToolReference) {
			t.Fatalf("cross-session reference error = %v, want ErrInvalidToolReference", err)
		}
	})

	t.Run("invalid messages", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		bad := []*models.Message{
			nil,
			{Role: models.RoleSystem, Content: "x"},
			{Role: models.RoleUser, ToolCalls: []models.ToolCall{{ID: "c", Name: "n"}}},
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{Name: "n"}}},
		}
		for i, msg := range bad {
			if err := store.AppendMessage(ctx, "s1", msg); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("case %d: error = %v, want ErrInvalidMessage", i, err)
			}
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Get() error = %v", err)
		}
		if err := store.AppendMessage(ctx, "missing", &models.Message{Role: models.RoleUser, Content: "hi"}); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("AppendMessage() error = %v", err)
		}
		if _, err := store.GetHistory(ctx, "missing", 0); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("GetHistory() error = %v", err)
		}
		if err := store.Touch(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Touch() error = %v", err)
		}
		if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Delete() error = %v", err)
		}
		ok, err := store.Exists(ctx, "missing")
		if err != nil || ok {
			t.Errorf("Exists() = %v, %v", ok, err)
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		call := &models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "call-1", Name: "calculator"}}}
		if err := store.AppendMessage(ctx, "s1", call); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		if err := store.Delete(ctx, "s1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.CountMessages(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("CountMessages() after delete error = %v", err)
		}

		// Recreating the id must not inherit old messages or tool call ids.
		if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		history, err := store.GetHistory(ctx, "s1", 0)
		if err != nil || len(history) != 0 {
			t.Fatalf("GetHistory() = %d messages, %v", len(history), err)
		}
		err = store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleTool, ToolCallID: "call-1", Content: "4"})
		if !errors.Is(err, ErrInvalidToolReference) {
			t.Fatalf("stale tool reference error = %v", err)
		}
	})

	t.Run("latest tie goes to last created", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		ctx := context.Background()

		at := clock.Now()
		for _, id := range []string{"first", "second", "third"} {
			if err := store.Create(ctx, &models.Session{ID: id, CreatedAt: at, LastActivity: at}); err != nil {
				t.Fatalf("Create(%s) error = %v", id, err)
			}
		}
		id, ok, err := store.Latest(ctx)
		if err != nil || !ok {
			t.Fatalf("Latest() = %q, %v, %v", id, ok, err)
		}
		if id != "third" {
			t.Fatalf("Latest() = %q, want third", id)
		}

		clock.Advance(time.Minute)
		if err := store.Touch(ctx, "first"); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
		if id, _, _ := store.Latest(ctx); id != "first" {
			t.Fatalf("Latest() after touch = %q, want first", id)
		}

		sessions, err := store.List(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		order := []string{}
		for _, s := range sessions {
			order = append(order, s.ID)
		}
		if len(order) != 3 || order[0] != "first" || order[1] != "third" || order[2] != "second" {
			t.Fatalf("List() order = %v", order)
		}
		page, err := store.List(ctx, ListOptions{Limit: 1, Offset: 1})
		if err != nil || len(page) != 1 || page[0].ID != "third" {
			t.Fatalf("List(page) = %v, %v", page, err)
		}
	})

	t.Run("latest on empty store", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		id, ok, err := store.Latest(context.Background())
		if err != nil || ok || id != "" {
			t.Fatalf("Latest() = %q, %v, %v", id, ok, err)
		}
	})

	t.Run("create rejects duplicates and generates ids", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		s := &models.Session{}
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if s.ID == "" || s.Seq == 0 {
			t.Fatalf("Create() did not assign id/seq: %+v", s)
		}
		if err := store.Create(ctx, &models.Session{ID: s.ID}); err == nil {
			t.Fatal("expected duplicate error")
		}
		fresh, err := store.GetOrCreate(ctx, "")
		if err != nil {
			t.Fatalf("GetOrCreate(empty) error = %v", err)
		}
		if fresh.ID == "" || fresh.ID == s.ID || fresh.Seq <= s.Seq {
			t.Fatalf("GetOrCreate(empty) = %+v", fresh)
		}
	})

	t.Run("replace with summary", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t, clock)
		ctx := context.Background()
		if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "hello"}); err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}
		}

		summary := &models.ChatSummary{SessionID: "s1", Summary: "greetings", Topics: []string{"Greeting"}, MessageCount: 3}
		msg := &models.Message{Role: models.RoleAssistant, Content: "summary", Metadata: map[string]any{models.MetaKind: models.MetaKindSummary}}
		if err := store.ReplaceWithSummary(ctx, summary, msg, 3); err != nil {
			t.Fatalf("ReplaceWithSummary() error = %v", err)
		}

		history, err := store.GetHistory(ctx, "s1", 0)
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		if len(history) != 1 || !history[0].IsSummary() {
			t.Fatalf("history after summary = %+v", history)
		}
		session, err := store.Get(ctx, "s1")
		if err != nil || !session.Archived {
			t.Fatalf("session not archived: %+v, %v", session, err)
		}
		if _, ok, _ := store.Latest(ctx); ok {
			t.Fatal("archived session returned by Latest")
		}
		stored, err := store.GetSummary(ctx, "s1")
		if err != nil || stored == nil || stored.Summary != "greetings" {
			t.Fatalf("GetSummary() = %+v, %v", stored, err)
		}
		list, err := store.ListSummaries(ctx, SummaryListOptions{Topic: "greeting"})
		if err != nil || len(list) != 1 {
			t.Fatalf("ListSummaries(topic) = %v, %v", list, err)
		}
		list, _ = store.ListSummaries(ctx, SummaryListOptions{Topic: "weather"})
		if len(list) != 0 {
			t.Fatalf("ListSummaries(other topic) = %v", list)
		}

		if all, _ := store.List(ctx, ListOptions{}); len(all) != 0 {
			t.Fatalf("List() returned archived sessions: %d", len(all))
		}
		if all, _ := store.List(ctx, ListOptions{IncludeArchived: true}); len(all) != 1 {
			t.Fatalf("List(IncludeArchived) = %d sessions", len(all))
		}

		// New activity brings the session back.
		clock.Advance(time.Minute)
		if err := store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "back again"}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		if id, ok, _ := store.Latest(ctx); !ok || id != "s1" {
			t.Fatalf("Latest() after reactivation = %q, %v", id, ok)
		}
	})

	t.Run("replace with summary rejects newer messages", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "hello"}); err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}
		}

		summary := &models.ChatSummary{SessionID: "s1", Summary: "greetings", MessageCount: 2}
		msg := &models.Message{Role: models.RoleAssistant, Content: "summary"}
		err := store.ReplaceWithSummary(ctx, summary, msg, 2)
		if !errors.Is(err, ErrWriteConflict) {
			t.Fatalf("ReplaceWithSummary() error = %v, want ErrWriteConflict", err)
		}
		if n, _ := store.CountMessages(ctx, "s1"); n != 3 {
			t.Fatalf("CountMessages() = %d, want 3 untouched", n)
		}
		session, err := store.Get(ctx, "s1")
		if err != nil || session.Archived {
			t.Fatalf("session archived by a rejected summary: %+v, %v", session, err)
		}
		if got, _ := store.GetSummary(ctx, "s1"); got != nil {
			t.Fatalf("GetSummary() = %+v, want none", got)
		}
	})

	t.Run("missing summary", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		got, err := store.GetSummary(context.Background(), "none")
		if err != nil || got != nil {
			t.Fatalf("GetSummary() = %+v, %v", got, err)
		}
	})

	t.Run("concurrent appends keep distinct seqs", func(t *testing.T) {
		store := newStore(t, newFakeClock())
		ctx := context.Background()
		if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
			t.Fatalf("GetOrCreate() error = %v", err)
		}
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.AppendMessage(ctx, "s1", &models.Message{Role: models.RoleUser, Content: "hi"})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}
		}
		history, err := store.GetHistory(ctx, "s1", 0)
		if err != nil || len(history) != 20 {
			t.Fatalf("GetHistory() = %d, %v", len(history), err)
		}
		seen := map[int64]bool{}
		for _, msg := range history {
			if seen[msg.Seq] {
				t.Fatalf("duplicate seq %d", msg.Seq)
			}
			seen[msg.Seq] = true
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		return NewMemoryStore(WithClock(clock.Now))
	})
}

func TestSelectLatest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		sessions []*models.Session
		want     string
	}{
		{name: "empty", want: ""},
		{
			name: "latest activity wins",
			sessions: []*models.Session{
				{ID: "a", Seq: 1, LastActivity: base.Add(time.Hour)},
				{ID: "b", Seq: 2, LastActivity: base},
			},
			want: "a",
		},
		{
			name: "tie goes to highest seq",
			sessions: []*models.Session{
				{ID: "b", Seq: 2, LastActivity: base},
				{ID: "c", Seq: 3, LastActivity: base},
				{ID: "a", Seq: 1, LastActivity: base},
			},
			want: "c",
		},
		{
			name: "archived ignored",
			sessions: []*models.Session{
				{ID: "a", Seq: 1, LastActivity: base},
				{ID: "b", Seq: 2, LastActivity: base.Add(time.Hour), Archived: true},
				nil,
			},
			want: "a",
		},
		{
			name: "only archived",
			sessions: []*models.Session{
				{ID: "a", Seq: 1, LastActivity: base, Archived: true},
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectLatest(tt.sessions)
			id := ""
			if got != nil {
				id = got.ID
			}
			if id != tt.want {
				t.Fatalf("SelectLatest() = %q, want %q", id, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("  héllo wörld  ", 5); got != "héllo" {
		t.Fatalf("Preview() = %q", got)
	}
	if got := Preview("short", 10); got != "short" {
		t.Fatalf("Preview() = %q", got)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	msg := &models.Message{Role: models.RoleUser, Content: "hi", Metadata: map[string]any{"k": "v"}}
	if err := store.AppendMessage(ctx, "s1", msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	msg.Metadata["k"] = "mutated"

	history, _ := store.GetHistory(ctx, "s1", 0)
	if history[0].Metadata["k"] != "v" {
		t.Fatalf("stored message shares caller's metadata")
	}
	history[0].Content = "changed"
	again, _ := store.GetHistory(ctx, "s1", 0)
	if again[0].Content != "hi" {
		t.Fatalf("GetHistory returned shared message")
	}
}
