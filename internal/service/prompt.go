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

const checkInSystemPrompt = "You are a friendly project mentor who helps users stay accountable. " +
	"Write a concise progress check-in message. Keep the tone encouraging and professional. " +
	"If there is a latest user update, reference it naturally. " +
	"End with an open question that invites the user to share their current status."

type CheckInInput struct {
	History        []domain.Message
	Now            time.Time
	CadenceMinutes int
}

type CheckIn struct {
	Text     string
	Usage    *Usage
	Fallback bool
}

// GenerateCheckIn writes the scheduled reminder for a session. It never fails:
// generator errors and empty output fall back to a fixed template.
func GenerateCheckIn(ctx context.Context, gen TextGenerator, in CheckInInput) CheckIn {
	cadence := "the configured interval"
	if in.CadenceMinutes > 0 {
		cadence = fmt.Sprintf("%d minutes", in.CadenceMinutes)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current time: %s\n", in.Now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Progress cadence: %s\n", cadence)
	b.WriteString("Conversation summary (oldest to newest):\n")
	b.WriteString(formatHistory(in.History, config.PromptHistoryLimit, config.PromptMessageMaxLen, "(no prior conversation)"))
	b.WriteString("\n\nOutput requirements:\n")
	b.WriteString("- Length: at most 2 short sentences\n")
	b.WriteString("- Include a brief acknowledgement of the latest user update if available\n")
	b.WriteString("- Ask how things are going right now and encourage a small response")

	text, res, err := generate(ctx, gen, GenerationRequest{
		System:      checkInSystemPrompt,
		Prompt:      b.String(),
		Temperature: config.PromptTemperature,
		TopP:        config.PromptTopP,
		MaxTokens:   config.PromptMaxTokens,
	})
	if err != nil {
		slog.Warn("ai.prompt.failed", "error", err)
	}
	if text != "" {
		return CheckIn{Text: text, Usage: &res.Usage}
	}
	return CheckIn{Text: fallbackCheckIn(in.History), Fallback: true}
}

func fallbackCheckIn(history []domain.Message) string {
	if latest := domain.LatestUserMessage(history); latest != nil {
		if excerpt := collapseWhitespace(latest.Content); excerpt != "" {
			return fmt.Sprintf("Last time you mentioned \"%s\". How is it going now?",
				truncate(excerpt, config.PromptFallbackExcerptLen))
		}
	}
	return "How is your progress going? Even a small update is welcome!"
}
