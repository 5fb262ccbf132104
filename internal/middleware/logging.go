// Package middleware wraps Telegram update handlers.
package middleware

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Logging logs each update with its command and processing time.
func Logging() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			next(ctx, b, update)
			slog.Debug("telegram.update", append(updateAttrs(update), "duration", time.Since(start))...)
		}
	}
}

func updateAttrs(update *models.Update) []any {
	if update == nil || update.Message == nil {
		return []any{"type", "unknown"}
	}
	msg := update.Message
	attrs := []any{
		"type", "message",
		"update_id", update.ID,
		"chat_id", msg.Chat.ID,
	}
	if msg.MessageThreadID != 0 {
		attrs = append(attrs, "topic_id", msg.MessageThreadID)
	}
	if msg.From != nil {
		attrs = append(attrs, "user_id", msg.From.ID)
	}
	if cmd := commandName(msg.Text); cmd != "" {
		attrs = append(attrs, "command", cmd)
	}
	return attrs
}

// commandName returns "start" for "/start@mybot 30 thesis".
func commandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	token, _, _ := strings.Cut(text[1:], " ")
	token, _, _ = strings.Cut(token, "@")
	return strings.ToLower(token)
}
