package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/domain"
	"github.com/set-night/progressmate/internal/repository"
)

type SessionService struct {
	store    repository.Store
	delivery Delivery
	gen      TextGenerator
	metrics  *Metrics
}

func NewSessionService(store repository.Store, delivery Delivery, gen TextGenerator, metrics *Metrics) *SessionService {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &SessionService{store: store, delivery: delivery, gen: gen, metrics: metrics}
}

type StartParams struct {
	UserID      string
	ChannelID   string
	Now         time.Time
	Title       string
	DisplayName string
	// CadenceMinutes defaults to config.DefaultCadenceMinutes when nil.
	CadenceMinutes *int

	// Optional overrides.
	SessionID          string
	ThreadName         string
	AutoArchiveMinutes int
}

type StartResult struct {
	Session           *domain.Session
	ThreadID          string
	WelcomeMessage    domain.Message
	ExternalMessageID string
	NextPromptDue     time.Time
	EndedSessionCount int64
}

// Start opens a private thread, records the new session and its welcome
// message, then closes the user's other active sessions. Any failure after
// the session row exists stops it again before the error is returned.
func (s *SessionService) Start(ctx context.Context, p StartParams) (*StartResult, error) {
	cadence := config.DefaultCadenceMinutes
	if p.CadenceMinutes != nil {
		cadence = *p.CadenceMinutes
	}
	if cadence <= 0 || cadence > config.MaxCadenceMinutes {
		return nil, domain.ErrInvalidCadence
	}

	now := p.Now.UTC()
	id := p.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	name := p.ThreadName
	if name == "" {
		name = threadName(p.Title, p.DisplayName, now)
	}
	archive := p.AutoArchiveMinutes
	if archive <= 0 {
		archive = config.ThreadAutoArchiveMinutes
	}

	threadID, err := s.delivery.CreateThread(ctx, ThreadParams{
		Parent:             p.ChannelID,
		Name:               name,
		AutoArchiveMinutes: archive,
		Private:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	if threadID == "" {
		return nil, domain.ErrMissingThreadID
	}

	var title *string
	if p.Title != "" {
		title = &p.Title
	}
	next := now.Add(time.Duration(cadence) * time.Minute)

	session, err := s.store.CreateSession(ctx, repository.CreateSessionParams{
		ID:             id,
		UserID:         p.UserID,
		ChannelID:      p.ChannelID,
		ThreadID:       &threadID,
		Title:          title,
		CadenceMinutes: cadence,
		StartedAt:      now,
		NextPromptDue:  &next,
	})
	if err != nil {
		slog.Warn("interaction.start.thread_orphaned",
			"thread_id", threadID,
			"user_id", p.UserID,
			"error", err,
		)
		return nil, fmt.Errorf("create session: %w", err)
	}

	result, err := s.completeStart(ctx, session, threadID, now)
	if err != nil {
		if _, rbErr := s.store.MarkSessionAsStopped(context.WithoutCancel(ctx), session.ID, now); rbErr != nil {
			slog.Error("interaction.start.rollback_failed",
				"session_id", session.ID,
				"error", rbErr,
			)
		}
		return nil, err
	}

	s.metrics.SessionsStarted.Inc()
	slog.Info("session started",
		"session_id", session.ID,
		"user_id", session.UserID,
		"thread_id", threadID,
		"cadence_minutes", cadence,
		"ended_sessions", result.EndedSessionCount,
	)
	return result, nil
}

func (s *SessionService) completeStart(ctx context.Context, session *domain.Session, threadID string, now time.Time) (*StartResult, error) {
	content := welcomeMessage(session.CadenceMinutes)
	delivered, err := s.delivery.CreateMessage(ctx, OutgoingMessage{Target: threadID, Content: content})
	if err != nil {
		return nil, fmt.Errorf("send welcome message: %w", err)
	}

	msg := domain.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Author:     domain.AuthorBot,
		ExternalID: externalID(delivered),
		Content:    content,
		CreatedAt:  deliveredAt(delivered, now),
	}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return nil, fmt.Errorf("store welcome message: %w", err)
	}

	ended, err := s.store.StopOtherActiveSessionsForUser(ctx, session.UserID, now, session.ID)
	if err != nil {
		return nil, fmt.Errorf("stop previous sessions: %w", err)
	}

	return &StartResult{
		Session:           session,
		ThreadID:          threadID,
		WelcomeMessage:    msg,
		ExternalMessageID: delivered.GetID(),
		NextPromptDue:     *session.NextPromptDue,
		EndedSessionCount: ended,
	}, nil
}

type StopResult struct {
	Stopped           bool
	Message           *domain.Message
	ExternalMessageID string
}

// Stop ends session if it is still active and posts a closing note to its
// thread. Stopping an already stopped session is a no-op.
func (s *SessionService) Stop(ctx context.Context, session *domain.Session, now time.Time) (*StopResult, error) {
	if session == nil {
		return nil, domain.ErrNoActiveSession
	}
	now = now.UTC()

	stopped, err := s.store.MarkSessionAsStopped(ctx, session.ID, now)
	if err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}
	if !stopped {
		return &StopResult{Stopped: false}, nil
	}
	s.metrics.SessionsStopped.Inc()

	if session.ThreadID == nil || *session.ThreadID == "" {
		return &StopResult{Stopped: true}, nil
	}

	content := stopMessage(now)
	delivered, err := s.delivery.CreateMessage(ctx, OutgoingMessage{Target: *session.ThreadID, Content: content})
	if err != nil {
		return nil, fmt.Errorf("send stop message: %w", err)
	}

	msg := domain.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Author:     domain.AuthorBot,
		ExternalID: externalID(delivered),
		Content:    content,
		CreatedAt:  deliveredAt(delivered, now),
	}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return nil, fmt.Errorf("store stop message: %w", err)
	}

	return &StopResult{Stopped: true, Message: &msg, ExternalMessageID: delivered.GetID()}, nil
}

type ProgressResult struct {
	UserMessage   domain.Message
	NextPromptDue time.Time
	Feedback      *FeedbackResult
}

type FeedbackResult struct {
	Message           domain.Message
	ExternalMessageID string
	Fallback          bool
}

// RecordProgress stores the user's update and pushes the next reminder one
// cadence past now.
func (s *SessionService) RecordProgress(ctx context.Context, session *domain.Session, text string, now time.Time) (*ProgressResult, error) {
	if session == nil {
		return nil, domain.ErrNoActiveSession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyProgress
	}
	now = now.UTC()

	msg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Author:    domain.AuthorUser,
		Content:   text,
		CreatedAt: now,
	}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return nil, fmt.Errorf("store progress: %w", err)
	}

	next := now.Add(session.Cadence())
	if err := s.store.UpdateSessionAfterUserReply(ctx, session.ID, now, &next); err != nil {
		return nil, fmt.Errorf("reschedule after progress: %w", err)
	}

	s.metrics.ProgressReports.Inc()
	return &ProgressResult{UserMessage: msg, NextPromptDue: next}, nil
}

// DeliverFeedback generates a reply to update and posts it to the session's
// thread, or its channel when there is no thread.
func (s *SessionService) DeliverFeedback(ctx context.Context, session *domain.Session, update string, now time.Time) (*FeedbackResult, error) {
	target := session.DeliveryTarget()
	if target == "" {
		return nil, domain.ErrNoDeliveryTarget
	}
	now = now.UTC()

	history, err := s.store.ListMessagesForSession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	feedback := GenerateFeedback(ctx, s.gen, FeedbackInput{History: history, Now: now, UserUpdate: update})
	if feedback.Fallback {
		s.metrics.GenerationFallbacks.WithLabelValues("feedback").Inc()
	}

	delivered, err := s.delivery.CreateMessage(ctx, OutgoingMessage{Target: target, Content: feedback.Text})
	if err != nil {
		return nil, fmt.Errorf("send feedback: %w", err)
	}

	msg := domain.Message{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Author:     domain.AuthorBot,
		ExternalID: externalID(delivered),
		Content:    feedback.Text,
		CreatedAt:  deliveredAt(delivered, now),
	}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return nil, fmt.Errorf("store feedback: %w", err)
	}

	return &FeedbackResult{Message: msg, ExternalMessageID: delivered.GetID(), Fallback: feedback.Fallback}, nil
}

// Progress records the update and delivers feedback in one call. A feedback
// failure leaves the recorded update in place.
func (s *SessionService) Progress(ctx context.Context, session *domain.Session, text string, now time.Time) (*ProgressResult, error) {
	result, err := s.RecordProgress(ctx, session, text, now)
	if err != nil {
		return nil, err
	}
	feedback, err := s.DeliverFeedback(ctx, session, result.UserMessage.Content, now)
	if err != nil {
		return result, fmt.Errorf("deliver feedback: %w", err)
	}
	result.Feedback = feedback
	return result, nil
}

func threadName(title, displayName string, now time.Time) string {
	prefix := title
	if prefix == "" {
		prefix = displayName
	}
	if prefix == "" {
		prefix = "session"
	}
	name := []rune(prefix + "-progress-" + now.UTC().Format("200601021504"))
	if len(name) > config.MaxThreadNameLen {
		name = name[:config.MaxThreadNameLen]
	}
	return string(name)
}

func welcomeMessage(cadenceMinutes int) string {
	return strings.Join([]string{
		"Progress session started!",
		"Share your progress in this thread with /progress.",
		fmt.Sprintf("You will get a reminder about every %d minutes.", cadenceMinutes),
		"Use /stop to end the session when you are done.",
	}, "\n")
}

func stopMessage(now time.Time) string {
	return strings.Join([]string{
		"Session stopped. Nice work!",
		fmt.Sprintf("Whenever you want to pick things up again, start a new session with /start (%s).", now.UTC().Format(time.RFC3339)),
	}, "\n")
}
