package domain

import "time"

type Author string

const (
	AuthorUser   Author = "user"
	AuthorBot    Author = "bot"
	AuthorSystem Author = "system"
)

// Message is one immutable turn in a session's conversation log.
type Message struct {
	ID         string
	SessionID  string
	Author     Author
	ExternalID *string // id of the delivered chat message, if any
	Content    string
	CreatedAt  time.Time
}

// LatestUserMessage returns the newest user-authored entry of history, or nil.
func LatestUserMessage(history []Message) *Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Author == AuthorUser {
			return &history[i]
		}
	}
	return nil
}
