package sessions

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a session lock cannot be acquired in time.
var ErrLockTimeout = errors.New("session lock timeout")

// Locker serializes writers of a single session.
type Locker interface {
	Lock(ctx context.Context, sessionID string) error
	Unlock(sessionID string)
}

// LocalLocker is an in-process Locker. Each session gets a one-slot
// semaphore that is dropped once nobody holds or waits for it.
type LocalLocker struct {
	timeout time.Duration

	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker. A timeout <= 0 waits until ctx is done.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{timeout: timeout, slots: make(map[string]*lockSlot)}
}

// Lock blocks until the session lock is held, ctx is done or the timeout elapses.
func (l *LocalLocker) Lock(ctx context.Context, sessionID string) error {
	if l == nil {
		return errors.New("session locker unavailable")
	}
	slot := l.acquireSlot(sessionID)

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case slot.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.releaseSlot(sessionID)
		return ctx.Err()
	case <-timeout:
		l.releaseSlot(sessionID)
		return ErrLockTimeout
	}
}

// Unlock releases the session lock. Unlocking a free session is a no-op.
func (l *LocalLocker) Unlock(sessionID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	slot, ok := l.slots[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-slot.ch:
		l.releaseSlot(sessionID)
	default:
	}
}

func (l *LocalLocker) acquireSlot(sessionID string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[sessionID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[sessionID] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalLocker) releaseSlot(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[sessionID]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 {
		delete(l.slots, sessionID)
	}
}

// DBLockerConfig configures the lease-based lock stored in session_locks.
type DBLockerConfig struct {
	OwnerID         string
	TTL             time.Duration
	RefreshInterval time.Duration
	AcquireTimeout  time.Duration
	PollInterval    time.Duration
}

func DefaultDBLockerConfig() DBLockerConfig {
	return DBLockerConfig{
		TTL:             2 * time.Minute,
		RefreshInterval: 30 * time.Second,
		AcquireTimeout:  10 * time.Second,
		PollInterval:    200 * time.Millisecond,
	}
}

// DBLocker holds a renewable lease per session in Postgres so several jarvis
// processes sharing one database still serialize writes. Leases expire after
// TTL if the holder dies.
type DBLocker struct {
	db     *sql.DB
	config DBLockerConfig
	now    func() time.Time

	mu     sync.Mutex
	renew  map[string]context.CancelFunc
	closed bool
}

func NewDBLocker(db *sql.DB, cfg DBLockerConfig) (*DBLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if strings.TrimSpace(cfg.OwnerID) == "" {
		return nil, errors.New("owner id is required")
	}
	defaults := DefaultDBLockerConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 || cfg.RefreshInterval >= cfg.TTL {
		cfg.RefreshInterval = cfg.TTL / 4
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &DBLocker{
		db:     db,
		config: cfg,
		now:    time.Now,
		renew:  make(map[string]context.CancelFunc),
	}, nil
}

func (l *DBLocker) Lock(ctx context.Context, sessionID string) error {
	if l == nil {
		return errors.New("session locker unavailable")
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session_id is required")
	}

	deadline := l.now().Add(l.config.AcquireTimeout)
	for {
		ok, err := l.tryAcquire(ctx, sessionID)
		if err != nil {
			return err
		}
		if ok {
			l.startRenew(sessionID)
			return nil
		}
		if l.now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

// Unlock drops the lease. A failed delete is left to expire via TTL.
func (l *DBLocker) Unlock(sessionID string) {
	if l == nil {
		return
	}
	l.stopRenew(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = l.db.ExecContext(ctx,
		`DELETE FROM session_locks WHERE session_id = $1 AND owner_id = $2`,
		sessionID, l.config.OwnerID)
}

// Close stops every renew loop. Held leases expire on their own.
func (l *DBLocker) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, cancel := range l.renew {
		cancel()
	}
	l.renew = make(map[string]context.CancelFunc)
	return nil
}

func (l *DBLocker) tryAcquire(ctx context.Context, sessionID string) (bool, error) {
	now := l.now().UTC()
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO session_locks (session_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE session_locks.expires_at < $3 OR session_locks.owner_id = EXCLUDED.owner_id
		RETURNING owner_id
	`, sessionID, l.config.OwnerID, now, now.Add(l.config.TTL)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

func (l *DBLocker) startRenew(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if _, ok := l.renew[sessionID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.renew[sessionID] = cancel
	go l.renewLoop(ctx, sessionID)
}

func (l *DBLocker) stopRenew(sessionID string) {
	l.mu.Lock()
	cancel, ok := l.renew[sessionID]
	delete(l.renew, sessionID)
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *DBLocker) renewLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.extendLease(ctx, sessionID) {
				l.stopRenew(sessionID)
				return
			}
		}
	}
}

func (l *DBLocker) extendLease(ctx context.Context, sessionID string) bool {
	result, err := l.db.ExecContext(ctx,
		`UPDATE session_locks SET expires_at = $1 WHERE session_id = $2 AND owner_id = $3`,
		l.now().UTC().Add(l.config.TTL), sessionID, l.config.OwnerID)
	if err != nil {
		return false
	}
	rows, err := result.RowsAffected()
	return err == nil && rows > 0
}
