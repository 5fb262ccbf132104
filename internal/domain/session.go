package domain

import (
	"time"
)

type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	// SessionStatusPaused is accepted by storage but no transition produces it yet.
	SessionStatusPaused  SessionStatus = "paused"
	SessionStatusStopped SessionStatus = "stopped"
)

type Session struct {
	ID               string
	UserID           string
	ChannelID        string
	ThreadID         *string
	Title            *string
	Status           SessionStatus
	StartedAt        time.Time
	EndedAt          *time.Time
	CadenceMinutes   int
	NextPromptDue    *time.Time
	LastPromptSentAt *time.Time
	LastUserReplyAt  *time.Time
}

// IsActive reports whether the session still receives prompts and progress.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// Cadence returns the reminder interval as a duration.
func (s *Session) Cadence() time.Duration {
	return time.Duration(s.CadenceMinutes) * time.Minute
}

// DeliveryTarget returns the thread when one exists, otherwise the home channel.
// An empty result means the session has nowhere to deliver to.
func (s *Session) DeliveryTarget() string {
	if s.ThreadID != nil && *s.ThreadID != "" {
		return *s.ThreadID
	}
	return s.ChannelID
}

// PromptDueSession is a Session returned by the due query, whose next prompt
// time is known to be set.
type PromptDueSession struct {
	Session
	Due time.Time
}

// NewPromptDueSession wraps s, failing when the session has no due time.
func NewPromptDueSession(s Session) (PromptDueSession, error) {
	if s.NextPromptDue == nil {
		return PromptDueSession{}, ErrMissingPromptDue
	}
	return PromptDueSession{Session: s, Due: *s.NextPromptDue}, nil
}
