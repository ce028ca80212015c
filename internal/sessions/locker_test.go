package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker(0)
	ctx := context.Background()

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locker.Lock(ctx, "s1"); err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			locker.Unlock("s1")
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Fatalf("peak holders = %d, want 1", peak.Load())
	}
	if len(locker.slots) != 0 {
		t.Fatalf("slots not released: %d", len(locker.slots))
	}
}

func TestLocalLockerIndependentSessions(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()
	if err := locker.Lock(ctx, "a"); err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer locker.Unlock("a")
	if err := locker.Lock(ctx, "b"); err != nil {
		t.Fatalf("Lock(b) error = %v", err)
	}
	locker.Unlock("b")
}

func TestLocalLockerTimeoutAndCancel(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)
	if err := locker.Lock(context.Background(), "s1"); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	if err := locker.Lock(context.Background(), "s1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Lock() error = %v, want ErrLockTimeout", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := locker.Lock(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Lock(cancelled) error = %v", err)
	}

	locker.Unlock("s1")
	if err := locker.Lock(context.Background(), "s1"); err != nil {
		t.Fatalf("Lock() after Unlock error = %v", err)
	}
	locker.Unlock("s1")
	locker.Unlock("s1") // unlocking a free session is a no-op
}

func TestDBLockerLockUnlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, err := NewDBLocker(db, DBLockerConfig{
		OwnerID:         "node-1",
		TTL:             time.Minute,
		RefreshInterval: 30 * time.Second,
		AcquireTimeout:  time.Second,
		PollInterval:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDBLocker: %v", err)
	}
	defer locker.Close()

	mock.ExpectQuery("INSERT INTO session_locks").
		WithArgs("sess-1", "node-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("node-1"))

	if err := locker.Lock(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	mock.ExpectExec("DELETE FROM session_locks").
		WithArgs("sess-1", "node-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	locker.Unlock("sess-1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDBLockerTimesOutWhenHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, err := NewDBLocker(db, DBLockerConfig{
		OwnerID:        "node-1",
		TTL:            time.Minute,
		AcquireTimeout: 15 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDBLocker: %v", err)
	}
	for i := 0; i < 5; i++ {
		mock.ExpectQuery("INSERT INTO session_locks").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))
	}

	if err := locker.Lock(context.Background(), "sess-1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock() error = %v, want ErrLockTimeout", err)
	}
}

func TestNewDBLockerValidation(t *testing.T) {
	if _, err := NewDBLocker(nil, DBLockerConfig{OwnerID: "x"}); err == nil {
		t.Fatal("expected error for nil db")
	}
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	if _, err := NewDBLocker(db, DBLockerConfig{}); err == nil {
		t.Fatal("expected error for empty owner")
	}
	locker, err := NewDBLocker(db, DBLockerConfig{OwnerID: "x", TTL: time.Minute, RefreshInterval: 2 * time.Minute})
	if err != nil {
		t.Fatalf("NewDBLocker: %v", err)
	}
	if locker.config.RefreshInterval != 15*time.Second {
		t.Fatalf("refresh interval = %v, want ttl/4", locker.config.RefreshInterval)
	}
}
