// Package telegram runs the progress bot on Telegram: forum topics stand in
// for threads and text commands stand in for slash commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/progressmate/internal/domain"
	"github.com/set-night/progressmate/internal/service"
)

const (
	MaxMessageLen = 4096
	MaxTopicName  = 128

	mentionLabel = "Check-in"
)

// API is the subset of *bot.Bot used by this package.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	CreateForumTopic(ctx context.Context, params *bot.CreateForumTopicParams) (*models.ForumTopic, error)
}

// Target addresses a chat, optionally narrowed to one forum topic.
// It is encoded as "chatID" or "chatID:topicID".
type Target struct {
	ChatID  int64
	TopicID int
}

func (t Target) String() string {
	if t.TopicID == 0 {
		return strconv.FormatInt(t.ChatID, 10)
	}
	return fmt.Sprintf("%d:%d", t.ChatID, t.TopicID)
}

func ParseTarget(s string) (Target, error) {
	chat, topic, hasTopic := strings.Cut(strings.TrimSpace(s), ":")
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return Target{}, fmt.Errorf("parse chat id %q: %w", s, err)
	}
	t := Target{ChatID: chatID}
	if hasTopic {
		topicID, err := strconv.Atoi(topic)
		if err != nil {
			return Target{}, fmt.Errorf("parse topic id %q: %w", s, err)
		}
		t.TopicID = topicID
	}
	return t, nil
}

// Delivery implements service.Delivery on the Bot API.
type Delivery struct {
	api API
}

func NewDelivery(api API) *Delivery {
	return &Delivery{api: api}
}

func (d *Delivery) CreateMessage(ctx context.Context, msg service.OutgoingMessage) (*service.DeliveredMessage, error) {
	target, err := ParseTarget(msg.Target)
	if err != nil {
		return nil, &domain.DeliveryError{Op: "send message", Status: http.StatusBadRequest, Body: err.Error()}
	}

	params := &bot.SendMessageParams{
		ChatID:          target.ChatID,
		MessageThreadID: target.TopicID,
		Text:            truncate(msg.Content, MaxMessageLen),
	}
	if msg.MentionUserID != "" {
		if userID, err := strconv.ParseInt(msg.MentionUserID, 10, 64); err == nil {
			params.Text = truncate(mentionLabel+"\n"+msg.Content, MaxMessageLen)
			params.Entities = []models.MessageEntity{{
				Type:   models.MessageEntityTypeTextMention,
				Offset: 0,
				Length: len(utf16.Encode([]rune(mentionLabel))),
				User:   &models.User{ID: userID},
			}}
		}
	}

	sent, err := d.api.SendMessage(ctx, params)
	if err != nil {
		return nil, deliveryError("send message", err)
	}

	delivered := &service.DeliveredMessage{ID: strconv.Itoa(sent.ID)}
	if sent.Date > 0 {
		delivered.Timestamp = time.Unix(int64(sent.Date), 0).UTC().Format(time.RFC3339Nano)
	}
	return delivered, nil
}

// CreateThread opens a forum topic in the parent chat. Chats without topics
// get their session messages in the chat itself.
func (d *Delivery) CreateThread(ctx context.Context, params service.ThreadParams) (string, error) {
	parent, err := ParseTarget(params.Parent)
	if err != nil {
		return "", &domain.DeliveryError{Op: "create topic", Status: http.StatusBadRequest, Body: err.Error()}
	}

	topic, err := d.api.CreateForumTopic(ctx, &bot.CreateForumTopicParams{
		ChatID: parent.ChatID,
		Name:   truncate(params.Name, MaxTopicName),
	})
	if err != nil {
		if errors.Is(err, bot.ErrorBadRequest) {
			slog.Info("telegram.topic.unavailable", "chat_id", parent.ChatID, "error", err)
			return parent.String(), nil
		}
		return "", deliveryError("create topic", err)
	}

	return Target{ChatID: parent.ChatID, TopicID: topic.MessageThreadID}.String(), nil
}

func deliveryError(op string, err error) error {
	status := http.StatusBadGateway
	var tooMany *bot.TooManyRequestsError
	switch {
	case errors.Is(err, bot.ErrorBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, bot.ErrorUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, bot.ErrorForbidden):
		status = http.StatusForbidden
	case errors.Is(err, bot.ErrorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, bot.ErrorConflict):
		status = http.StatusConflict
	case errors.As(err, &tooMany):
		status = http.StatusTooManyRequests
	}
	return &domain.DeliveryError{Op: op, Status: status, Body: err.Error()}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
