package sessions

import (
	"context"
	"testing"

	"github.com/haasonsaas/jarvis/internal/config"
)

func newSQLiteStore(t *testing.T, clock *fakeClock) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := OpenDB(ctx, config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"})
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrator, err := NewMigrator(db, dialect)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	opts := []SQLOption{}
	if clock != nil {
		opts = append(opts, WithSQLClock(clock.Now))
	}
	return NewSQLStore(db, dialect, opts...)
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		return newSQLiteStore(t, clock)
	})
}

func TestSQLiteMigratorUpDownStatus(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := OpenDB(ctx, config.DatabaseConfig{Driver: "sqlite", URL: ":memory:"})
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	defer db.Close()

	migrator, err := NewMigrator(db, dialect)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}
	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(applied) != len(migrator.Migrations()) {
		t.Fatalf("Up() applied %v", applied)
	}
	again, err := migrator.Up(ctx, 0)
	if err != nil || len(again) != 0 {
		t.Fatalf("second Up() = %v, %v", again, err)
	}

	done, pending, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(pending) != 0 || len(done) != len(applied) {
		t.Fatalf("Status() = %d applied, %d pending", len(done), len(pending))
	}
	if done[0].AppliedAt.IsZero() {
		t.Fatalf("applied_at not recorded")
	}

	rolled, err := migrator.Down(ctx, 1)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if len(rolled) != 1 || rolled[0] != applied[len(applied)-1] {
		t.Fatalf("Down() rolled %v", rolled)
	}
	if len(applied) == 1 {
		if _, err := db.ExecContext(ctx, `SELECT 1 FROM sessions`); err == nil {
			t.Fatalf("sessions table still present after rollback")
		}
	}
	_, pending, err = migrator.Status(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Status() after Down pending = %d, %v", len(pending), err)
	}
}

func TestSQLiteCleanerEndToEnd(t *testing.T) {
	store := newSQLiteStore(t, nil)
	cleaner := NewCleaner(store, staticSummarizer("Checked the disk.", "system"))
	ctx := context.Background()

	seedSession(t, store, "old", 5)
	seedSession(t, store, "current", 1)

	report, err := cleaner.CleanupOlderSessions(ctx, "current", 2)
	if err != nil {
		t.Fatalf("CleanupOlderSessions() error = %v", err)
	}
	if report.SessionsSummarized != 1 || report.SessionsFound != 1 {
		t.Fatalf("report = %+v", report)
	}
	history, err := store.GetHistory(ctx, "old", 0)
	if err != nil || len(history) != 1 || !history[0].IsSummary() {
		t.Fatalf("history = %+v, %v", history, err)
	}
	summary, err := store.GetSummary(ctx, "old")
	if err != nil || summary == nil || summary.MessageCount != 5 {
		t.Fatalf("summary = %+v, %v", summary, err)
	}
	if len(summary.Topics) != 1 || summary.Topics[0] != "system" {
		t.Fatalf("topics = %v", summary.Topics)
	}
}
