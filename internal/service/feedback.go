package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/domain"
)

const feedbackSystemPrompt = "You are a supportive project mentor. " +
	"Write a short response (2-3 sentences) that first summarizes the user's latest progress " +
	"and then gives encouraging feedback with a gentle follow-up question. " +
	"Keep the tone positive, professional, and concise."

type FeedbackInput struct {
	History    []domain.Message
	Now        time.Time
	UserUpdate string
}

type Feedback struct {
	Text     string
	Usage    *Usage
	Fallback bool
}

// GenerateFeedback answers a progress report. Like GenerateCheckIn it always
// returns usable text.
func GenerateFeedback(ctx context.Context, gen TextGenerator, in FeedbackInput) Feedback {
	update := collapseWhitespace(in.UserUpdate)

	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n", in.Now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Latest user update: \"\"\"%s\"\"\"\n", update)
	b.WriteString("Recent conversation (oldest to newest):\n")
	b.WriteString(formatHistory(in.History, config.FeedbackHistoryLimit, config.FeedbackMessageMaxLen, "(no previous conversation logs)"))
	b.WriteString("\n\nResponse requirements:\n")
	b.WriteString("- Keep it to roughly 2-3 short sentences\n")
	b.WriteString("- Start by acknowledging or summarizing the latest update\n")
	b.WriteString("- Offer positive reinforcement and invite the user to share their next step or blockers")

	text, res, err := generate(ctx, gen, GenerationRequest{
		System:      feedbackSystemPrompt,
		Prompt:      b.String(),
		Temperature: config.FeedbackTemperature,
		TopP:        config.FeedbackTopP,
		MaxTokens:   config.FeedbackMaxTokens,
	})
	if err != nil {
		slog.Warn("ai.feedback.failed", "error", err)
	}
	if text != "" {
		return Feedback{Text: text, Usage: &res.Usage}
	}
	return Feedback{Text: fallbackFeedback(update), Fallback: true}
}

func fallbackFeedback(update string) string {
	return fmt.Sprintf("Thanks for the update! Summary: %s. Keep it up. What are you planning to tackle next?",
		truncate(update, config.FeedbackFallbackExcerptLen))
}
