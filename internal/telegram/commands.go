package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/handler"
)

// Commands routes /start, /stop and /progress messages to the handler package.
type Commands struct {
	handler     *handler.Handler
	botUsername string
}

// NewCommands builds the router. botUsername is the bot's own username;
// commands addressed to any other bot are ignored.
func NewCommands(h *handler.Handler, botUsername string) *Commands {
	return &Commands{handler: h, botUsername: strings.TrimPrefix(botUsername, "@")}
}

// Register attaches the command handlers to the bot.
func (c *Commands) Register(b *bot.Bot) {
	b.RegisterHandlerMatchFunc(c.matches("start"), c.wrap(c.handleStart))
	b.RegisterHandlerMatchFunc(c.matches("stop"), c.wrap(c.handleStop))
	b.RegisterHandlerMatchFunc(c.matches("progress"), c.wrap(c.handleProgress))
}

// matches accepts "/name" and "/name@thisbot" followed by optional arguments.
func (c *Commands) matches(name string) bot.MatchFunc {
	return func(update *models.Update) bool {
		if update == nil || update.Message == nil {
			return false
		}
		cmd, mention, _ := ParseCommand(update.Message.Text)
		if cmd != name {
			return false
		}
		return mention == "" || strings.EqualFold(mention, c.botUsername)
	}
}

type commandFunc func(ctx context.Context, msg *models.Message) handler.Reply

func (c *Commands) wrap(fn commandFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		c.handle(ctx, b, update, fn)
	}
}

// handle runs fn for a message update and sends the reply back to the chat
// and topic the command came from.
func (c *Commands) handle(ctx context.Context, api API, update *models.Update, fn commandFunc) {
	if update == nil || update.Message == nil {
		return
	}
	msg := update.Message
	reply := fn(ctx, msg)
	if reply.Content == "" {
		return
	}

	_, err := api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          msg.Chat.ID,
		MessageThreadID: msg.MessageThreadID,
		Text:            reply.Content,
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	})
	if err != nil {
		slog.Error("telegram.reply.failed", "error", err, "chat_id", msg.Chat.ID)
	}
}

func (c *Commands) handleStart(ctx context.Context, msg *models.Message) handler.Reply {
	cadence, title := parseStartArgs(commandArgs(msg.Text))
	return c.handler.Start(ctx, handler.StartCommand{
		UserID:         senderID(msg),
		ChannelID:      originTarget(msg).String(),
		DisplayName:    senderName(msg),
		Title:          title,
		CadenceMinutes: cadence,
	})
}

func (c *Commands) handleStop(ctx context.Context, msg *models.Message) handler.Reply {
	return c.handler.Stop(ctx, handler.StopCommand{UserID: senderID(msg)})
}

func (c *Commands) handleProgress(ctx context.Context, msg *models.Message) handler.Reply {
	return c.handler.Progress(ctx, handler.ProgressCommand{
		UserID: senderID(msg),
		Text:   commandArgs(msg.Text),
	})
}

// ParseCommand splits "/Start@mybot 30 thesis" into "start", "mybot" and
// "30 thesis". name is empty when text is not a command.
func ParseCommand(text string) (name, mention, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", text
	}
	token, rest := text[1:], ""
	if i := strings.IndexFunc(token, unicode.IsSpace); i >= 0 {
		token, rest = token[:i], token[i+1:]
	}
	name, mention, _ = strings.Cut(token, "@")
	return strings.ToLower(name), mention, strings.TrimSpace(rest)
}

// commandArgs strips the leading "/command" or "/command@bot" token.
func commandArgs(text string) string {
	_, _, args := ParseCommand(text)
	return args
}

// parseStartArgs reads "[cadence] [title...]". A leading positive integer is
// the cadence; everything else is the title.
func parseStartArgs(args string) (*int, string) {
	first, rest, _ := strings.Cut(args, " ")
	n, err := strconv.Atoi(first)
	switch {
	case err == nil && n > 0:
		return &n, strings.TrimSpace(rest)
	case err == nil:
		return nil, strings.TrimSpace(rest)
	case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(first, "-"):
		// Too large for int; let the lifecycle reject it as out of range.
		tooLong := config.MaxCadenceMinutes + 1
		return &tooLong, strings.TrimSpace(rest)
	}
	return nil, strings.TrimSpace(args)
}

func senderID(msg *models.Message) string {
	if msg.From == nil {
		return ""
	}
	return strconv.FormatInt(msg.From.ID, 10)
}

func senderName(msg *models.Message) string {
	if msg.From == nil {
		return ""
	}
	if msg.From.Username != "" {
		return msg.From.Username
	}
	return msg.From.FirstName
}

func originTarget(msg *models.Message) Target {
	t := Target{ChatID: msg.Chat.ID}
	if msg.IsTopicMessage {
		t.TopicID = msg.MessageThreadID
	}
	return t
}
