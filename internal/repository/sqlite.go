package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/set-night/progressmate/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite file. Timestamps are
// stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer connection keeps conditional updates serialised.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		thread_id TEXT,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'paused', 'stopped')),
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		cadence_minutes INTEGER NOT NULL CHECK (cadence_minutes > 0 AND cadence_minutes <= 43200),
		next_prompt_due INTEGER,
		last_prompt_sent_at INTEGER,
		last_user_reply_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status, started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_due ON sessions(next_prompt_due) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		author TEXT NOT NULL CHECK (author IN ('user', 'bot', 'system')),
		external_id TEXT,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetActiveSession(ctx context.Context) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = ? ORDER BY started_at DESC LIMIT 1`
	return s.getSession(ctx, "get active session", query, statusActive)
}

func (s *SQLiteStore) GetActiveSessionForUser(ctx context.Context, userID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = ? AND user_id = ? ORDER BY started_at DESC LIMIT 1`
	return s.getSession(ctx, "get active session for user", query, statusActive, userID)
}

func (s *SQLiteStore) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ? LIMIT 1`
	return s.getSession(ctx, "get session", query, id)
}

func (s *SQLiteStore) getSession(ctx context.Context, op, query string, args ...any) (*domain.Session, error) {
	session, err := scanSQLiteSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

func (s *SQLiteStore) GetDueSessions(ctx context.Context, ref time.Time) ([]domain.PromptDueSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = ? AND next_prompt_due IS NOT NULL AND next_prompt_due <= ?
		ORDER BY next_prompt_due ASC`

	rows, err := s.db.QueryContext(ctx, query, statusActive, ref.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query due sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due sessions: %w", err)
	}

	return toDueSessions(sessions)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, params CreateSessionParams) (*domain.Session, error) {
	session := params.session()

	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.ChannelID, nullString(session.ThreadID), nullString(session.Title),
		string(session.Status), session.StartedAt.UnixMilli(), nullMillis(session.EndedAt),
		session.CadenceMinutes, nullMillis(session.NextPromptDue),
		nullMillis(session.LastPromptSentAt), nullMillis(session.LastUserReplyAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("create session %s: %w", session.ID, domain.ErrSessionExists)
		}
		return nil, fmt.Errorf("create session %s: %w", session.ID, err)
	}

	return session, nil
}

func (s *SQLiteStore) UpdateSessionAfterPrompt(ctx context.Context, id string, lastPromptSentAt, nextPromptDue time.Time) error {
	rows, err := s.exec(ctx,
		`UPDATE sessions SET last_prompt_sent_at = ?, next_prompt_due = ? WHERE id = ? AND status = ?`,
		lastPromptSentAt.UnixMilli(), nextPromptDue.UnixMilli(), id, statusActive,
	)
	if err != nil {
		return fmt.Errorf("update session after prompt: %w", err)
	}
	return ensureUpdated(rows, "update after prompt", id)
}

func (s *SQLiteStore) UpdateSessionAfterUserReply(ctx context.Context, id string, lastUserReplyAt time.Time, nextPromptDue *time.Time) error {
	rows, err := s.exec(ctx,
		`UPDATE sessions SET last_user_reply_at = ?, next_prompt_due = ? WHERE id = ? AND status = ?`,
		lastUserReplyAt.UnixMilli(), nullMillis(nextPromptDue), id, statusActive,
	)
	if err != nil {
		return fmt.Errorf("update session after user reply: %w", err)
	}
	return ensureUpdated(rows, "update after user reply", id)
}

func (s *SQLiteStore) UpdateSessionThreadID(ctx context.Context, id, threadID string) error {
	rows, err := s.exec(ctx, `UPDATE sessions SET thread_id = ? WHERE id = ?`, threadID, id)
	if err != nil {
		return fmt.Errorf("update session thread: %w", err)
	}
	return ensureUpdated(rows, "update thread id", id)
}

func (s *SQLiteStore) MarkSessionAsStopped(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	rows, err := s.exec(ctx,
		`UPDATE sessions SET status = ?, ended_at = ?, next_prompt_due = NULL WHERE id = ? AND status = ?`,
		statusStopped, endedAt.UnixMilli(), id, statusActive,
	)
	if err != nil {
		return false, fmt.Errorf("mark session stopped: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLiteStore) StopOtherActiveSessionsForUser(ctx context.Context, userID string, endedAt time.Time, excludeID string) (int64, error) {
	rows, err := s.exec(ctx,
		`UPDATE sessions SET status = ?, ended_at = ?, next_prompt_due = NULL
		WHERE status = ? AND user_id = ? AND id <> ?`,
		statusStopped, endedAt.UnixMilli(), statusActive, userID, excludeID,
	)
	if err != nil {
		return 0, fmt.Errorf("stop other sessions: %w", err)
	}
	return rows, nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Author), nullString(msg.ExternalID), msg.Content, msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessagesForSession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var author string
		var externalID sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &author, &externalID, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Author = domain.Author(author)
		m.ExternalID = stringPtr(externalID)
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

func scanSQLiteSession(row scanner) (*domain.Session, error) {
	var s domain.Session
	var status string
	var threadID, title sql.NullString
	var startedAt int64
	var endedAt, nextPromptDue, lastPromptSentAt, lastUserReplyAt sql.NullInt64

	err := row.Scan(
		&s.ID, &s.UserID, &s.ChannelID, &threadID, &title, &status,
		&startedAt, &endedAt, &s.CadenceMinutes, &nextPromptDue,
		&lastPromptSentAt, &lastUserReplyAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = domain.SessionStatus(status)
	s.ThreadID = stringPtr(threadID)
	s.Title = stringPtr(title)
	s.StartedAt = time.UnixMilli(startedAt).UTC()
	s.EndedAt = timePtr(endedAt)
	s.NextPromptDue = timePtr(nextPromptDue)
	s.LastPromptSentAt = timePtr(lastPromptSentAt)
	s.LastUserReplyAt = timePtr(lastUserReplyAt)
	return &s, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// isSQLiteUniqueViolation matches primary key and unique index conflicts.
func isSQLiteUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: PRIMARY KEY")
}
