package service

import (
	"context"
	"time"
)

// Delivery posts messages and opens threads on the chat platform.
type Delivery interface {
	CreateMessage(ctx context.Context, msg OutgoingMessage) (*DeliveredMessage, error)
	CreateThread(ctx context.Context, params ThreadParams) (string, error)
}

type OutgoingMessage struct {
	Target  string // channel or thread id
	Content string
	// MentionUserID, when set, pings that user only.
	MentionUserID string
}

type DeliveredMessage struct {
	ID        string
	Timestamp string // RFC 3339, may be empty
}

type ThreadParams struct {
	Parent             string
	Name               string
	AutoArchiveMinutes int
	Private            bool
}

// deliveredAt returns the platform timestamp of msg, or fallback when it is
// missing or unparseable.
func deliveredAt(msg *DeliveredMessage, fallback time.Time) time.Time {
	if msg == nil || msg.Timestamp == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		return fallback
	}
	return t.UTC().Truncate(time.Millisecond)
}

func externalID(msg *DeliveredMessage) *string {
	if msg == nil || msg.ID == "" {
		return nil
	}
	id := msg.ID
	return &id
}

func (m *DeliveredMessage) GetID() string {
	if m == nil {
		return ""
	}
	return m.ID
}
