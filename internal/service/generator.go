package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/set-night/progressmate/internal/domain"
)

// TextGenerator produces a single completion for a system/user prompt pair.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

type GenerationRequest struct {
	System      string
	Prompt      string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type GenerationResult struct {
	Text  string
	Model string
	Usage Usage
}

// collapseWhitespace folds every whitespace run into one space and trims the ends.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to maxLen runes, the last three of which become "...".
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

func roleLabel(a domain.Author) string {
	switch a {
	case domain.AuthorUser:
		return "User"
	case domain.AuthorBot:
		return "Assistant"
	default:
		return "System"
	}
}

// formatHistory renders the newest limit entries of history, oldest first.
func formatHistory(history []domain.Message, limit, maxLen int, empty string) string {
	if len(history) == 0 {
		return empty
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, "- ["+roleLabel(m.Author)+"] "+
			m.CreatedAt.UTC().Format(time.RFC3339)+" :: "+
			truncate(collapseWhitespace(m.Content), maxLen))
	}
	return strings.Join(lines, "\n")
}

// generate runs gen and returns its collapsed text, or "" when generation
// is unavailable or produced nothing usable.
func generate(ctx context.Context, gen TextGenerator, req GenerationRequest) (string, *GenerationResult, error) {
	if gen == nil {
		return "", nil, nil
	}
	res, err := gen.Generate(ctx, req)
	if err != nil {
		return "", nil, err
	}
	if res == nil {
		return "", nil, nil
	}
	return collapseWhitespace(res.Text), res, nil
}
