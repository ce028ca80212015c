package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/jarvis/internal/sessions"
)

func TestTurnRegistry_OneTurnPerSession(t *testing.T) {
	r := NewTurnRegistry(nil)
	ctx := context.Background()

	h, err := r.Begin(ctx, "s1")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := r.Begin(ctx, "s1"); !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("second Begin() error = %v", err)
	}
	other, err := r.Begin(ctx, "s2")
	if err != nil {
		t.Fatalf("Begin(s2) error = %v", err)
	}
	if r.Active() != 2 || !r.IsBusy("s1") {
		t.Fatalf("Active() = %d", r.Active())
	}

	r.End(h)
	r.End(h)
	r.End(other)
	if r.Active() != 0 || r.IsBusy("s1") {
		t.Fatal("sessions should be released")
	}
	if _, err := r.Begin(ctx, "s1"); err != nil {
		t.Fatalf("Begin() after End error = %v", err)
	}
}

func TestTurnRegistry_Stop(t *testing.T) {
	r := NewTurnRegistry(nil)
	if r.Stop("idle") {
		t.Fatal("Stop() on an idle session should report false")
	}

	h, err := r.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if h.Stopped() {
		t.Fatal("fresh handle reports stopped")
	}
	if !r.Stop("s1") || !r.Stop("s1") {
		t.Fatal("Stop() should find the active turn")
	}
	if !h.Stopped() {
		t.Fatal("handle should be stopped")
	}
	select {
	case <-h.StopRequested():
	default:
		t.Fatal("StopRequested() should be closed")
	}
}

func TestTurnRegistry_LockerSerializesReplicas(t *testing.T) {
	locker := sessions.NewLocalLocker(30 * time.Millisecond)
	a := NewTurnRegistry(locker)
	b := NewTurnRegistry(locker)
	ctx := context.Background()

	h, err := a.Begin(ctx, "s1")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	_, err = b.Begin(ctx, "s1")
	if !errors.Is(err, ErrTurnInProgress) || !errors.Is(err, sessions.ErrLockTimeout) {
		t.Fatalf("replica Begin() error = %v", err)
	}
	if b.IsBusy("s1") {
		t.Fatal("failed Begin must not leave the session marked busy")
	}

	a.End(h)
	h2, err := b.Begin(ctx, "s1")
	if err != nil {
		t.Fatalf("Begin() after release error = %v", err)
	}
	b.End(h2)
}
