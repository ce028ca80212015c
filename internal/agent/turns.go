package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/haasonsaas/jarvis/internal/sessions"
)

// TurnRegistry tracks the single active turn of each session and carries
// stop requests to it. With a Locker configured the turn additionally holds
// the session lock, so a second replica sharing the database rejects a
// concurrent turn for the same session.
type TurnRegistry struct {
	locker sessions.Locker

	mu     sync.Mutex
	active map[string]*TurnHandle
}

// NewTurnRegistry creates a registry. locker may be nil.
func NewTurnRegistry(locker sessions.Locker) *TurnRegistry {
	return &TurnRegistry{locker: locker, active: make(map[string]*TurnHandle)}
}

// TurnHandle is the registry's view of one running turn.
type TurnHandle struct {
	ID        string
	SessionID string

	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	locked   bool
}

// Stopped reports whether a stop was requested.
func (h *TurnHandle) Stopped() bool { return h.stopped.Load() }

// StopRequested is closed when a stop is requested.
func (h *TurnHandle) StopRequested() <-chan struct{} { return h.stopCh }

func (h *TurnHandle) stop() {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		close(h.stopCh)
	})
}

// Begin claims the session for a new turn.
func (r *TurnRegistry) Begin(ctx context.Context, sessionID string) (*TurnHandle, error) {
	h := &TurnHandle{ID: uuid.NewString(), SessionID: sessionID, stopCh: make(chan struct{})}

	r.mu.Lock()
	if _, busy := r.active[sessionID]; busy {
		r.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	r.active[sessionID] = h
	r.mu.Unlock()

	if r.locker != nil {
		if err := r.locker.Lock(ctx, sessionID); err != nil {
			r.release(h)
			if errors.Is(err, sessions.ErrLockTimeout) {
				return nil, fmt.Errorf("%w: %w", ErrTurnInProgress, err)
			}
			return nil, fmt.Errorf("failed to lock session: %w", err)
		}
		h.locked = true
	}
	return h, nil
}

// End releases the session. Ending a handle twice is harmless.
func (r *TurnRegistry) End(h *TurnHandle) {
	if h == nil {
		return
	}
	if r.release(h) && h.locked && r.locker != nil {
		r.locker.Unlock(h.SessionID)
	}
}

func (r *TurnRegistry) release(h *TurnHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[h.SessionID] != h {
		return false
	}
	delete(r.active, h.SessionID)
	return true
}

// Stop requests cancellation of the session's active turn. It reports
// whether a turn was running; stopping an idle session is a no-op.
func (r *TurnRegistry) Stop(sessionID string) bool {
	r.mu.Lock()
	h, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.stop()
	return true
}

// IsBusy reports whether the session has an active turn in this process.
func (r *TurnRegistry) IsBusy(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Active returns the number of running turns.
func (r *TurnRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
