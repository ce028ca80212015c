package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/jarvis/internal/observability"
	"github.com/haasonsaas/jarvis/internal/retry"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// Dialect selects the SQL flavor used by SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// nextSessionSeq is the VALUES expression producing a new session's seq.
func (d Dialect) nextSessionSeq() string {
	if d == DialectPostgres {
		return "DEFAULT"
	}
	return "(SELECT COALESCE(MAX(seq), 0) + 1 FROM sessions)"
}

const sessionColumns = `id, seq, metadata, created_at, last_activity, archived, archived_at`

const messageColumns = `id, session_id, seq, role, content, tool_calls, tool_call_id, metadata, created_at`

const summaryColumns = `session_id, summary, topics, message_count, session_created_at, session_ended_at, first_preview, last_preview, created_at`

// SQLStore implements Store on Postgres or SQLite. Writes to one session are
// serialized in-process by a LocalLocker and across processes by the row lock
// the sessions UPDATE takes; each write is one transaction, retried once on a
// write conflict.
type SQLStore struct {
	db         *sql.DB
	dialect    Dialect
	ownsDB     bool
	locker     Locker
	retryDelay time.Duration
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// SQLOption customizes a SQLStore.
type SQLOption func(*SQLStore)

func WithMetrics(m *observability.Metrics) SQLOption {
	return func(s *SQLStore) { s.metrics = m }
}

func WithLogger(l *observability.Logger) SQLOption {
	return func(s *SQLStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRetryDelay sets the pause before a conflicting write is retried.
func WithRetryDelay(d time.Duration) SQLOption {
	return func(s *SQLStore) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLStore wraps an open database. The caller keeps ownership of db.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...SQLOption) *SQLStore {
	s := &SQLStore{
		db:         db,
		dialect:    dialect,
		locker:     NewLocalLocker(0),
		retryDelay: 50 * time.Millisecond,
		now:        time.Now,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying database connection for related components.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// write runs fn in a transaction while holding the session lock. A write
// conflict is retried once; a second conflict surfaces as ErrWriteConflict.
func (s *SQLStore) write(ctx context.Context, sessionID, op string, fn func(tx *sql.Tx) error) error {
	if err := s.locker.Lock(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to lock session %s: %w", sessionID, err)
	}
	defer s.locker.Unlock(sessionID)

	cfg := retry.Once(s.retryDelay, isWriteConflict)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.metrics.RecordWriteConflict("retried")
		s.logger.Warn(ctx, "session write conflict, retrying",
			"op", op, "session_id", sessionID, "delay", delay, "error", err)
	}
	result := retry.Do(ctx, cfg, func() error {
		return s.inTx(ctx, fn)
	})
	if result.Err == nil {
		if result.Attempts > 1 {
			s.metrics.RecordWriteConflict("recovered")
		}
		return nil
	}
	if isWriteConflict(result.Err) {
		s.metrics.RecordWriteConflict("failed")
		return fmt.Errorf("%w: %s %s: %v", ErrWriteConflict, op, sessionID, result.Err)
	}
	return result.Err
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after commit returns ErrTxDone which is expected
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if err := s.insertSession(ctx, session, false); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session already exists: %s", session.ID)
		}
		return err
	}
	return nil
}

func (s *SQLStore) GetOrCreate(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		session := &models.Session{}
		if err := s.Create(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	}
	session := &models.Session{ID: id}
	if err := s.insertSession(ctx, session, true); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// insertSession stores a new session row. With ignoreExisting an id that is
// already present is left untouched.
func (s *SQLStore) insertSession(ctx context.Context, session *models.Session, ignoreExisting bool) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	metadata, err := marshalMetadata(session.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO sessions (id, seq, metadata, created_at, last_activity, archived, next_msg_seq)
		VALUES (?, ` + s.dialect.nextSessionSeq() + `, ?, ?, ?, ?, 0)`
	args := []any{session.ID, metadata, toMicros(session.CreatedAt), toMicros(session.LastActivity), false}

	return s.write(ctx, session.ID, "create", func(tx *sql.Tx) error {
		if ignoreExisting {
			if _, err := s.exec(ctx, tx, query+` ON CONFLICT (id) DO NOTHING`, args...); err != nil {
				return fmt.Errorf("failed to create session: %w", err)
			}
			return nil
		}
		if err := s.queryRow(ctx, tx, query+` RETURNING seq`, args...).Scan(&session.Seq); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := scanSession(s.queryRow(ctx, s.db,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *SQLStore) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.queryRow(ctx, s.db, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Touch(ctx context.Context, id string) error {
	now := toMicros(s.now())
	return s.write(ctx, id, "touch", func(tx *sql.Tx) error {
		result, err := s.exec(ctx, tx, `UPDATE sessions
			SET last_activity = CASE WHEN last_activity > ? THEN last_activity ELSE ? END,
				archived = ?, archived_at = NULL
			WHERE id = ?`, now, now, false, id)
		if err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		return requireRow(result, id)
	})
}

// Delete removes child rows explicitly; SQLite only cascades when the
// foreign_keys pragma is on for the connection.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.write(ctx, id, "delete", func(tx *sql.Tx) error {
		for _, table := range []string{"tool_call_refs", "chat_summaries", "messages"} {
			if _, err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", table, err)
			}
		}
		result, err := s.exec(ctx, tx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return requireRow(result, id)
	})
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if !opts.IncludeArchived {
		query += ` WHERE archived = ?`
		args = append(args, false)
	}
	query += ` ORDER BY last_activity DESC, seq DESC`
	sqlPaged := opts.Limit > 0
	if sqlPaged {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, max(opts.Offset, 0))
	}

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	if !sqlPaged {
		out = paginate(out, opts.Offset, 0)
	}
	return out, nil
}

// Latest orders exactly like SelectLatest.
func (s *SQLStore) Latest(ctx context.Context) (string, bool, error) {
	var id string
	err := s.queryRow(ctx, s.db, `SELECT id FROM sessions WHERE archived = ?
		ORDER BY last_activity DESC, seq DESC LIMIT 1`, false).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get latest session: %w", err)
	}
	return id, true, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	now := toMicros(s.now())

	return s.write(ctx, sessionID, "append", func(tx *sql.Tx) error {
		var seq int64
		err := s.queryRow(ctx, tx, `UPDATE sessions
			SET next_msg_seq = next_msg_seq + 1,
				last_activity = CASE WHEN last_activity > ? THEN last_activity ELSE ? END,
				archived = ?, archived_at = NULL
			WHERE id = ?
			RETURNING next_msg_seq`, now, now, false, sessionID).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return fmt.Errorf("failed to reserve message seq: %w", err)
		}

		if msg.Role == models.RoleTool {
			var one int
			err := s.queryRow(ctx, tx, `SELECT 1 FROM tool_call_refs WHERE session_id = ? AND call_id = ?`,
				sessionID, msg.ToolCallID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrInvalidToolReference, msg.ToolCallID)
			}
			if err != nil {
				return fmt.Errorf("failed to check tool call reference: %w", err)
			}
		}

		if err := s.insertMessage(ctx, tx, sessionID, seq, msg); err != nil {
			return err
		}
		for _, tc := range msg.ToolCalls {
			if _, err := s.exec(ctx, tx, `INSERT INTO tool_call_refs (session_id, call_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING`, sessionID, tc.ID); err != nil {
				return fmt.Errorf("failed to record tool call: %w", err)
			}
		}
		msg.SessionID = sessionID
		msg.Seq = seq
		return nil
	})
}

func (s *SQLStore) insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, seq int64, msg *models.Message) error {
	var toolCalls sql.NullString
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("failed to marshal tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(data), Valid: true}
	}
	var metadata sql.NullString
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	toolCallID := sql.NullString{String: msg.ToolCallID, Valid: msg.ToolCallID != ""}

	_, err := s.exec(ctx, tx, `INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, seq, string(msg.Role), msg.Content,
		toolCalls, toolCallID, metadata, toMicros(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *SQLStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.query(ctx, s.db, `SELECT `+messageColumns+` FROM messages
			WHERE session_id = ? ORDER BY seq DESC LIMIT ?`, sessionID, limit)
	} else {
		rows, err = s.query(ctx, s.db, `SELECT `+messageColumns+` FROM messages
			WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	if len(messages) == 0 {
		if err := s.requireSession(ctx, sessionID); err != nil {
			return nil, err
		}
		return []*models.Message{}, nil
	}
	if limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

func (s *SQLStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	if n == 0 {
		if err := s.requireSession(ctx, sessionID); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *SQLStore) ReplaceWithSummary(ctx context.Context, summary *models.ChatSummary, msg *models.Message, throughSeq int64) error {
	if summary == nil {
		return errors.New("summary is required")
	}
	if err := validateMessage(msg); err != nil {
		return err
	}
	if msg.Role == models.RoleTool || len(msg.ToolCalls) > 0 {
		return fmt.Errorf("%w: summary must be a plain message", ErrInvalidMessage)
	}
	now := s.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	topics, err := json.Marshal(nonNilTopics(summary.Topics))
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	sessionID := summary.SessionID

	return s.write(ctx, sessionID, "summarize", func(tx *sql.Tx) error {
		var seq int64
		err := s.queryRow(ctx, tx, `UPDATE sessions
			SET next_msg_seq = next_msg_seq + 1, archived = ?, archived_at = ?
			WHERE id = ?
			RETURNING next_msg_seq`, true, toMicros(now), sessionID).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return fmt.Errorf("failed to archive session: %w", err)
		}
		// The UPDATE above holds the session row, so no append can land
		// between this check and the delete.
		var lastSeq int64
		if err := s.queryRow(ctx, tx, `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`,
			sessionID).Scan(&lastSeq); err != nil {
			return fmt.Errorf("failed to read last message seq: %w", err)
		}
		if lastSeq > throughSeq {
			return staleSummaryError(sessionID, throughSeq)
		}
		for _, table := range []string{"tool_call_refs", "messages"} {
			if _, err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE session_id = ?`, sessionID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		if err := s.insertMessage(ctx, tx, sessionID, seq, msg); err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, `INSERT INTO chat_summaries (`+summaryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id) DO UPDATE SET
				summary = excluded.summary,
				topics = excluded.topics,
				message_count = excluded.message_count,
				session_created_at = excluded.session_created_at,
				session_ended_at = excluded.session_ended_at,
				first_preview = excluded.first_preview,
				last_preview = excluded.last_preview,
				created_at = excluded.created_at`,
			sessionID, summary.Summary, string(topics), summary.MessageCount,
			toMicros(summary.SessionCreatedAt), toMicros(summary.SessionEndedAt),
			summary.FirstMessagePreview, summary.LastMessagePreview, toMicros(summary.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to store summary: %w", err)
		}
		msg.SessionID = sessionID
		msg.Seq = seq
		return nil
	})
}

func (s *SQLStore) GetSummary(ctx context.Context, sessionID string) (*models.ChatSummary, error) {
	summary, err := scanSummary(s.queryRow(ctx, s.db,
		`SELECT `+summaryColumns+` FROM chat_summaries WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return summary, nil
}

// ListSummaries filters by topic after loading because topics are stored as
// a JSON array.
func (s *SQLStore) ListSummaries(ctx context.Context, opts SummaryListOptions) ([]*models.ChatSummary, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+summaryColumns+` FROM chat_summaries
		ORDER BY created_at DESC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	out := []*models.ChatSummary{}
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if opts.Topic != "" && !hasTopicFold(summary, opts.Topic) {
			continue
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}
	return paginate(out, 0, opts.Limit), nil
}

func (s *SQLStore) requireSession(ctx context.Context, id string) error {
	ok, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session      models.Session
		metadata     sql.NullString
		createdAt    int64
		lastActivity int64
		archivedAt   sql.NullInt64
	)
	if err := row.Scan(&session.ID, &session.Seq, &metadata, &createdAt, &lastActivity,
		&session.Archived, &archivedAt); err != nil {
		return nil, err
	}
	session.CreatedAt = fromMicros(createdAt)
	session.LastActivity = fromMicros(lastActivity)
	if archivedAt.Valid {
		session.ArchivedAt = fromMicros(archivedAt.Int64)
	}
	if err := unmarshalNullable(metadata, &session.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &session, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg        models.Message
		role       string
		toolCalls  sql.NullString
		toolCallID sql.NullString
		metadata   sql.NullString
		createdAt  int64
	)
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &role, &msg.Content,
		&toolCalls, &toolCallID, &metadata, &createdAt); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Role = models.Role(role)
	msg.ToolCallID = toolCallID.String
	msg.CreatedAt = fromMicros(createdAt)
	if err := unmarshalNullable(toolCalls, &msg.ToolCalls); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
	}
	if err := unmarshalNullable(metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &msg, nil
}

func scanSummary(row rowScanner) (*models.ChatSummary, error) {
	var (
		summary                      models.ChatSummary
		topics                       sql.NullString
		sessionCreated, sessionEnded int64
		createdAt                    int64
	)
	if err := row.Scan(&summary.SessionID, &summary.Summary, &topics, &summary.MessageCount,
		&sessionCreated, &sessionEnded, &summary.FirstMessagePreview, &summary.LastMessagePreview,
		&createdAt); err != nil {
		return nil, err
	}
	summary.SessionCreatedAt = fromMicros(sessionCreated)
	summary.SessionEndedAt = fromMicros(sessionEnded)
	summary.CreatedAt = fromMicros(createdAt)
	if err := unmarshalNullable(topics, &summary.Topics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topics: %w", err)
	}
	return &summary, nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalNullable(v sql.NullString, dst any) error {
	if !v.Valid || v.String == "" || v.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(v.String), dst)
}

func nonNilTopics(topics []string) []string {
	if topics == nil {
		return []string{}
	}
	return topics
}

// Timestamps are stored as unix microseconds so both dialects sort and compare
// them the same way.
func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}
