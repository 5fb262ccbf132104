package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/set-night/progressmate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func history(entries ...domain.Message) []domain.Message { return entries }

func msgAt(author domain.Author, content string, minute int) domain.Message {
	return domain.Message{
		Author:    author,
		Content:   content,
		CreatedAt: tickTime.Add(time.Duration(minute) * time.Minute),
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncate("éééééééé", 6))
}

func TestFormatHistoryKeepsNewestEntries(t *testing.T) {
	var msgs []domain.Message
	for i := 0; i < 12; i++ {
		msgs = append(msgs, msgAt(domain.AuthorUser, strings.Repeat("x", i+1), i))
	}
	msgs = append(msgs, msgAt(domain.AuthorBot, "reply\n\n  with   spaces", 12))
	msgs = append(msgs, msgAt(domain.AuthorSystem, "note", 13))

	out := formatHistory(msgs, 10, 320, "(empty)")
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "- [User] 2025-10-02T09:04:00Z :: xxxxx", lines[0])
	assert.Equal(t, "- [Assistant] 2025-10-02T09:12:00Z :: reply with spaces", lines[8])
	assert.Equal(t, "- [System] 2025-10-02T09:13:00Z :: note", lines[9])

	assert.Equal(t, "(empty)", formatHistory(nil, 10, 320, "(empty)"))
}

func TestGenerateCheckInUsesGenerator(t *testing.T) {
	gen := &fakeGenerator{text: "  How is the report\ncoming along? "}

	out := GenerateCheckIn(context.Background(), gen, CheckInInput{
		History:        history(msgAt(domain.AuthorUser, "drafting intro", -5)),
		Now:            tickTime,
		CadenceMinutes: 20,
	})

	assert.False(t, out.Fallback)
	assert.Equal(t, "How is the report coming along?", out.Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 15, out.Usage.TotalTokens)

	require.Len(t, gen.calls, 1)
	req := gen.calls[0]
	assert.Equal(t, 0.4, req.Temperature)
	assert.Equal(t, 0.9, req.TopP)
	assert.Equal(t, 180, req.MaxTokens)
	assert.Contains(t, req.Prompt, "Current time: 2025-10-02T09:00:00Z")
	assert.Contains(t, req.Prompt, "Progress cadence: 20 minutes")
	assert.Contains(t, req.Prompt, "- [User] 2025-10-02T08:55:00Z :: drafting intro")
}

func TestGenerateCheckInFallbacks(t *testing.T) {
	long := strings.Repeat("a", 100)
	cases := []struct {
		name    string
		gen     TextGenerator
		history []domain.Message
		want    string
	}{
		{
			name:    "generator error with user history",
			gen:     &fakeGenerator{err: errBoom},
			history: history(msgAt(domain.AuthorUser, "fixed  the\nbug", 0), msgAt(domain.AuthorBot, "nice", 1)),
			want:    `Last time you mentioned "fixed the bug". How is it going now?`,
		},
		{
			name:    "blank output truncates excerpt",
			gen:     &fakeGenerator{text: " \n "},
			history: history(msgAt(domain.AuthorUser, long, 0)),
			want:    `Last time you mentioned "` + strings.Repeat("a", 57) + `...". How is it going now?`,
		},
		{
			name:    "no generator and no user message",
			gen:     nil,
			history: history(msgAt(domain.AuthorBot, "welcome", 0)),
			want:    "How is your progress going? Even a small update is welcome!",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := CheckInInput{History: tc.history, Now: tickTime, CadenceMinutes: 20}
			first := GenerateCheckIn(context.Background(), tc.gen, in)
			second := GenerateCheckIn(context.Background(), tc.gen, in)

			assert.True(t, first.Fallback)
			assert.Nil(t, first.Usage)
			assert.Equal(t, tc.want, first.Text)
			assert.Equal(t, first, second)
		})
	}
}

func TestGenerateFeedbackFallbackIsDeterministic(t *testing.T) {
	update := "  shipped   the\nlogin page " + strings.Repeat("b", 200)
	in := FeedbackInput{Now: tickTime, UserUpdate: update}

	first := GenerateFeedback(context.Background(), &fakeGenerator{err: errBoom}, in)
	second := GenerateFeedback(context.Background(), &fakeGenerator{text: ""}, in)

	assert.True(t, first.Fallback)
	assert.Equal(t, first.Text, second.Text)
	assert.True(t, strings.HasPrefix(first.Text, "Thanks for the update! Summary: shipped the login page b"))
	assert.Contains(t, first.Text, "bbb.... Keep it up.")

	summary := strings.TrimSuffix(strings.TrimPrefix(first.Text, "Thanks for the update! Summary: "),
		". Keep it up. What are you planning to tackle next?")
	assert.Equal(t, 120, len([]rune(summary)))
}

type fakeLLM struct {
	resp *llms.ContentResponse
	err  error
	msgs []llms.MessageContent
	opts llms.CallOptions
}

func (f *fakeLLM) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.msgs = msgs
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestOpenRouterServiceGenerate(t *testing.T) {
	llm := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content: "Keep going!",
		GenerationInfo: map[string]any{
			"PromptTokens":     12,
			"CompletionTokens": 4,
			"TotalTokens":      16,
		},
	}}}}
	svc := NewLLMGenerator(llm, "meta-llama/llama-3.1-8b-instruct")

	res, err := svc.Generate(context.Background(), GenerationRequest{
		System: "sys", Prompt: "user", Temperature: 0.4, TopP: 0.9, MaxTokens: 180,
	})
	require.NoError(t, err)
	assert.Equal(t, "Keep going!", res.Text)
	assert.Equal(t, "meta-llama/llama-3.1-8b-instruct", res.Model)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, res.Usage)

	require.Len(t, llm.msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.msgs[1].Role)
	assert.Equal(t, 0.4, llm.opts.Temperature)
	assert.Equal(t, 0.9, llm.opts.TopP)
	assert.Equal(t, 180, llm.opts.MaxTokens)
}

func TestOpenRouterServiceEmptyChoices(t *testing.T) {
	svc := NewLLMGenerator(&fakeLLM{resp: &llms.ContentResponse{}}, "m")
	_, err := svc.Generate(context.Background(), GenerationRequest{})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}
