package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/progressmate/internal/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetActiveSession(ctx context.Context) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = $1 ORDER BY started_at DESC LIMIT 1`
	return s.getSession(ctx, "get active session", query, statusActive)
}

func (s *PostgresStore) GetActiveSessionForUser(ctx context.Context, userID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = $1 AND user_id = $2 ORDER BY started_at DESC LIMIT 1`
	return s.getSession(ctx, "get active session for user", query, statusActive, userID)
}

func (s *PostgresStore) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 LIMIT 1`
	return s.getSession(ctx, "get session", query, id)
}

func (s *PostgresStore) getSession(ctx context.Context, op, query string, args ...any) (*domain.Session, error) {
	session, err := scanPgSession(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

func (s *PostgresStore) GetDueSessions(ctx context.Context, ref time.Time) ([]domain.PromptDueSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = $1 AND next_prompt_due IS NOT NULL AND next_prompt_due <= $2
		ORDER BY next_prompt_due ASC`

	rows, err := s.pool.Query(ctx, query, statusActive, ref.UTC())
	if err != nil {
		return nil, fmt.Errorf("query due sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanPgSession(rows)
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

func (s *PostgresStore) CreateSession(ctx context.Context, params CreateSessionParams) (*domain.Session, error) {
	session := params.session()

	query := `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		session.ID, session.UserID, session.ChannelID, session.ThreadID, session.Title,
		string(session.Status), session.StartedAt.UTC(), utcPtr(session.EndedAt),
		session.CadenceMinutes, utcPtr(session.NextPromptDue),
		utcPtr(session.LastPromptSentAt), utcPtr(session.LastUserReplyAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("create session %s: %w", session.ID, domain.ErrSessionExists)
		}
		return nil, fmt.Errorf("create session %s: %w", session.ID, err)
	}

	return session, nil
}

func (s *PostgresStore) UpdateSessionAfterPrompt(ctx context.Context, id string, lastPromptSentAt, nextPromptDue time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_prompt_sent_at = $1, next_prompt_due = $2
		WHERE id = $3 AND status = $4`,
		lastPromptSentAt.UTC(), nextPromptDue.UTC(), id, statusActive,
	)
	if err != nil {
		return fmt.Errorf("update session after prompt: %w", err)
	}
	return ensureUpdated(tag.RowsAffected(), "update after prompt", id)
}

func (s *PostgresStore) UpdateSessionAfterUserReply(ctx context.Context, id string, lastUserReplyAt time.Time, nextPromptDue *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_user_reply_at = $1, next_prompt_due = $2
		WHERE id = $3 AND status = $4`,
		lastUserReplyAt.UTC(), utcPtr(nextPromptDue), id, statusActive,
	)
	if err != nil {
		return fmt.Errorf("update session after user reply: %w", err)
	}
	return ensureUpdated(tag.RowsAffected(), "update after user reply", id)
}

func (s *PostgresStore) UpdateSessionThreadID(ctx context.Context, id, threadID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sessions SET thread_id = $1 WHERE id = $2`, threadID, id)
	if err != nil {
		return fmt.Errorf("update session thread: %w", err)
	}
	return ensureUpdated(tag.RowsAffected(), "update thread id", id)
}

func (s *PostgresStore) MarkSessionAsStopped(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, ended_at = $2, next_prompt_due = NULL
		WHERE id = $3 AND status = $4`,
		statusStopped, endedAt.UTC(), id, statusActive,
	)
	if err != nil {
		return false, fmt.Errorf("mark session stopped: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) StopOtherActiveSessionsForUser(ctx context.Context, userID string, endedAt time.Time, excludeID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, ended_at = $2, next_prompt_due = NULL
		WHERE status = $3 AND user_id = $4 AND id <> $5`,
		statusStopped, endedAt.UTC(), statusActive, userID, excludeID,
	)
	if err != nil {
		return 0, fmt.Errorf("stop other sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, string(msg.Author), msg.ExternalID, msg.Content, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// seq breaks ties between messages stored with the same timestamp.
const pgListMessagesQuery = `SELECT ` + messageColumns + ` FROM messages WHERE session_id = $1 ORDER BY created_at ASC, seq ASC`

func (s *PostgresStore) ListMessagesForSession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		pgListMessagesQuery,
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
		if err := rows.Scan(&m.ID, &m.SessionID, &author, &m.ExternalID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Author = domain.Author(author)
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func scanPgSession(row scanner) (*domain.Session, error) {
	var s domain.Session
	var status string
	err := row.Scan(
		&s.ID, &s.UserID, &s.ChannelID, &s.ThreadID, &s.Title, &status,
		&s.StartedAt, &s.EndedAt, &s.CadenceMinutes, &s.NextPromptDue,
		&s.LastPromptSentAt, &s.LastUserReplyAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = domain.SessionStatus(status)
	s.StartedAt = s.StartedAt.UTC()
	s.EndedAt = utcPtr(s.EndedAt)
	s.NextPromptDue = utcPtr(s.NextPromptDue)
	s.LastPromptSentAt = utcPtr(s.LastPromptSentAt)
	s.LastUserReplyAt = utcPtr(s.LastUserReplyAt)
	return &s, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
