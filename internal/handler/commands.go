package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/set-night/progressmate/internal/domain"
	"github.com/set-night/progressmate/internal/service"
)

// Reply is the response shown to the user who issued a command.
type Reply struct {
	Content   string
	Ephemeral bool
}

func ephemeral(content string) Reply {
	return Reply{Content: content, Ephemeral: true}
}

type StartCommand struct {
	UserID      string
	ChannelID   string
	DisplayName string
	Title       string
	// CadenceMinutes is nil when the user gave no valid cadence.
	CadenceMinutes *int
}

type StopCommand struct {
	UserID string
}

type ProgressCommand struct {
	UserID string
	Text   string
}

const (
	msgMissingUser     = "Could not identify your user. Please check the bot's permissions."
	msgMissingChannel  = "Could not identify the channel this command was used in."
	msgStartFailed     = "Failed to start the session. Please try again in a moment."
	msgInvalidCadence  = "The reminder interval must be between 1 and 43200 minutes (30 days)."
	msgNoActiveSession = "You have no active session."
	msgAlreadyStopped  = "The session has already ended. Use /start to begin a new one."
	msgStopFailed      = "Failed to stop the session. Please try again in a moment."
	msgEmptyProgress   = "No progress text found. Please enter it again."
	msgStartFirst      = "Start a session with /start before reporting progress."
	msgProgressFailed  = "Failed to record your progress. Please try again in a moment."
	msgProgressAck     = "Thanks for the update! Feedback will be posted to your thread shortly."
	msgUnsupported     = "This command is not supported."
)

func (h *Handler) Start(ctx context.Context, cmd StartCommand) Reply {
	if cmd.UserID == "" {
		return ephemeral(msgMissingUser)
	}
	if cmd.ChannelID == "" {
		return ephemeral(msgMissingChannel)
	}

	result, err := h.sessions.Start(ctx, service.StartParams{
		UserID:         cmd.UserID,
		ChannelID:      cmd.ChannelID,
		Now:            h.now(),
		Title:          cmd.Title,
		DisplayName:    cmd.DisplayName,
		CadenceMinutes: cmd.CadenceMinutes,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCadence) {
			return ephemeral(msgInvalidCadence)
		}
		slog.Error("interaction.start.failed",
			"error", err,
			"user_id", cmd.UserID,
			"channel_id", cmd.ChannelID,
		)
		h.report(err, "start session")
		return ephemeral(msgStartFailed)
	}

	content := fmt.Sprintf("Session started. Reminders will arrive about every %d minutes.", result.Session.CadenceMinutes)
	if link := h.mention(result.ThreadID); link != "" {
		content += " Your new thread is " + link + "."
	}
	if result.EndedSessionCount > 0 {
		content += fmt.Sprintf(" (%d previous session(s) were closed automatically.)", result.EndedSessionCount)
	}
	return ephemeral(content)
}

func (h *Handler) Stop(ctx context.Context, cmd StopCommand) Reply {
	if cmd.UserID == "" {
		return ephemeral(msgMissingUser)
	}

	session, err := h.store.GetActiveSessionForUser(ctx, cmd.UserID)
	if err != nil {
		slog.Error("interaction.stop.failed", "error", err, "user_id", cmd.UserID)
		h.report(err, "look up session to stop")
		return ephemeral(msgStopFailed)
	}
	if session == nil {
		return ephemeral(msgNoActiveSession)
	}

	result, err := h.sessions.Stop(ctx, session, h.now())
	if err != nil {
		slog.Error("interaction.stop.failed",
			"error", err,
			"session_id", session.ID,
			"user_id", cmd.UserID,
		)
		h.report(err, "stop session")
		return ephemeral(msgStopFailed)
	}
	if !result.Stopped {
		return ephemeral(msgAlreadyStopped)
	}

	content := "Session stopped"
	if session.ThreadID != nil {
		if link := h.mention(*session.ThreadID); link != "" {
			content += " (" + link + ")"
		}
	}
	return ephemeral(content + ". Use /start whenever you want to pick it up again.")
}

// Progress records the update right away and hands feedback generation to
// the background runner so the reply is not held up by the model.
func (h *Handler) Progress(ctx context.Context, cmd ProgressCommand) Reply {
	if strings.TrimSpace(cmd.Text) == "" {
		return ephemeral(msgEmptyProgress)
	}
	if cmd.UserID == "" {
		return ephemeral(msgMissingUser)
	}

	session, err := h.store.GetActiveSessionForUser(ctx, cmd.UserID)
	if err != nil {
		slog.Error("interaction.progress.failed", "error", err, "user_id", cmd.UserID)
		h.report(err, "look up session for progress")
		return ephemeral(msgProgressFailed)
	}
	if session == nil {
		return ephemeral(msgStartFirst)
	}

	now := h.now()
	recorded, err := h.sessions.RecordProgress(ctx, session, cmd.Text, now)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyProgress) {
			return ephemeral(msgEmptyProgress)
		}
		slog.Error("interaction.progress.failed",
			"error", err,
			"session_id", session.ID,
			"user_id", cmd.UserID,
		)
		h.report(err, "record progress")
		return ephemeral(msgProgressFailed)
	}

	update := recorded.UserMessage.Content
	h.tasks.Go(ctx, "interaction.progress.failed", func(ctx context.Context) error {
		_, err := h.sessions.DeliverFeedback(ctx, session, update, now)
		if err != nil {
			h.report(err, "deliver progress feedback")
		}
		return err
	}, "session_id", session.ID, "user_id", cmd.UserID)

	return ephemeral(msgProgressAck)
}

func (h *Handler) Unsupported() Reply {
	return ephemeral(msgUnsupported)
}
