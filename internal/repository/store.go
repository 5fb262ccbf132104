// Package repository persists sessions and their conversation messages.
//
// Every status-changing write is conditional on the row still being active and
// reports how many rows it touched, so concurrent handlers and scheduler ticks
// never need application-level locks.
package repository

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/domain"
)

// Store is the persistence contract shared by the Postgres and SQLite backends.
// Lookups return nil (not an error) when nothing matches.
type Store interface {
	GetActiveSession(ctx context.Context) (*domain.Session, error)
	GetActiveSessionForUser(ctx context.Context, userID string) (*domain.Session, error)
	GetSessionByID(ctx context.Context, id string) (*domain.Session, error)

	// GetDueSessions returns active sessions whose next prompt is due at or
	// before ref, earliest first.
	GetDueSessions(ctx context.Context, ref time.Time) ([]domain.PromptDueSession, error)

	CreateSession(ctx context.Context, params CreateSessionParams) (*domain.Session, error)

	// UpdateSessionAfterPrompt and UpdateSessionAfterUserReply only touch active
	// sessions and fail with domain.ErrUpdateConflict when no row was updated.
	UpdateSessionAfterPrompt(ctx context.Context, id string, lastPromptSentAt, nextPromptDue time.Time) error
	UpdateSessionAfterUserReply(ctx context.Context, id string, lastUserReplyAt time.Time, nextPromptDue *time.Time) error
	UpdateSessionThreadID(ctx context.Context, id, threadID string) error

	// MarkSessionAsStopped reports false when the session was not active.
	MarkSessionAsStopped(ctx context.Context, id string, endedAt time.Time) (bool, error)
	StopOtherActiveSessionsForUser(ctx context.Context, userID string, endedAt time.Time, excludeID string) (int64, error)

	InsertMessage(ctx context.Context, msg *domain.Message) error
	ListMessagesForSession(ctx context.Context, sessionID string) ([]domain.Message, error)

	Ping(ctx context.Context) error
	Close() error
}

type CreateSessionParams struct {
	ID               string
	UserID           string
	ChannelID        string
	ThreadID         *string
	Title            *string
	Status           domain.SessionStatus // defaults to active
	StartedAt        time.Time
	EndedAt          *time.Time
	CadenceMinutes   int
	NextPromptDue    *time.Time
	LastPromptSentAt *time.Time
	LastUserReplyAt  *time.Time
}

func (p CreateSessionParams) session() *domain.Session {
	status := p.Status
	if status == "" {
		status = domain.SessionStatusActive
	}
	return &domain.Session{
		ID:               p.ID,
		UserID:           p.UserID,
		ChannelID:        p.ChannelID,
		ThreadID:         p.ThreadID,
		Title:            p.Title,
		Status:           status,
		StartedAt:        p.StartedAt,
		EndedAt:          p.EndedAt,
		CadenceMinutes:   p.CadenceMinutes,
		NextPromptDue:    p.NextPromptDue,
		LastPromptSentAt: p.LastPromptSentAt,
		LastUserReplyAt:  p.LastUserReplyAt,
	}
}

// Open connects to the backend named by cfg.DatabaseURL. Postgres URLs get
// the embedded migrations applied; sqlite:// paths initialise their own schema.
func Open(ctx context.Context, cfg *config.Config, migrations fs.FS) (Store, error) {
	if cfg.IsSQLite() {
		return NewSQLite(strings.TrimPrefix(cfg.DatabaseURL, config.SQLiteScheme))
	}

	pool, err := NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(cfg.DatabaseURL, migrations); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgres(pool), nil
}

const sessionColumns = `id, user_id, channel_id, thread_id, title, status, started_at, ended_at,
	cadence_minutes, next_prompt_due, last_prompt_sent_at, last_user_reply_at`

const messageColumns = `id, session_id, author, external_id, content, created_at`

// scanner is satisfied by both pgx and database/sql rows.
type scanner interface {
	Scan(dest ...any) error
}

func ensureUpdated(rows int64, op, sessionID string) error {
	if rows == 0 {
		return fmt.Errorf("%s session %s: %w", op, sessionID, domain.ErrUpdateConflict)
	}
	return nil
}

func toDueSessions(sessions []domain.Session) ([]domain.PromptDueSession, error) {
	due := make([]domain.PromptDueSession, 0, len(sessions))
	for _, s := range sessions {
		d, err := domain.NewPromptDueSession(s)
		if err != nil {
			return nil, fmt.Errorf("due session %s: %w", s.ID, err)
		}
		due = append(due, d)
	}
	return due, nil
}

var (
	statusActive  = string(domain.SessionStatusActive)
	statusStopped = string(domain.SessionStatusStopped)
)
