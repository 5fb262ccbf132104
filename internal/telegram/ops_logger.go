package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
)

const opsSendTimeout = 10 * time.Second

// OpsLogger mirrors failures into a topic of an operator chat. A zero chat
// or topic disables it.
type OpsLogger struct {
	api     API
	chatID  int64
	topicID int
	now     func() time.Time
}

func NewOpsLogger(api API, chatID int64, topicID int) *OpsLogger {
	return &OpsLogger{api: api, chatID: chatID, topicID: topicID, now: time.Now}
}

func (l *OpsLogger) Enabled() bool {
	return l != nil && l.api != nil && l.chatID != 0 && l.topicID != 0
}

// LogError implements handler.ErrorReporter.
func (l *OpsLogger) LogError(err error, context string) {
	if !l.Enabled() || err == nil {
		return
	}
	msg := fmt.Sprintf("Error\n\nContext: %s\nError: %s\nTime: %s",
		context, err.Error(), l.now().UTC().Format("2006-01-02 15:04:05"))
	l.send(msg)
}

func (l *OpsLogger) send(text string) {
	if len([]rune(text)) > MaxMessageLen {
		text = string([]rune(text)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), opsSendTimeout)
	defer cancel()

	_, err := l.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.chatID,
		Text:            text,
		MessageThreadID: l.topicID,
	})
	if err != nil {
		slog.Error("telegram.ops_log.failed", "error", err)
	}
}
