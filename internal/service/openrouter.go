package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/set-night/progressmate/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var ErrEmptyCompletion = errors.New("model returned no choices")

// OpenRouterService generates text through OpenRouter's OpenAI-compatible API.
type OpenRouterService struct {
	llm   llms.Model
	model string
}

func NewOpenRouterService(apiKey, baseURL, model string) (*OpenRouterService, error) {
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openrouter client: %w", err)
	}
	return NewLLMGenerator(llm, model), nil
}

// NewLLMGenerator wraps any langchaingo model.
func NewLLMGenerator(llm llms.Model, model string) *OpenRouterService {
	return &OpenRouterService{llm: llm, model: model}
}

func (s *OpenRouterService) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}

	resp, err := s.llm.GenerateContent(ctx, content,
		llms.WithTemperature(req.Temperature),
		llms.WithTopP(req.TopP),
		llms.WithMaxTokens(req.MaxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	return &GenerationResult{
		Text:  choice.Content,
		Model: s.model,
		Usage: Usage{
			PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
			CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
			TotalTokens:      intInfo(choice.GenerationInfo, "TotalTokens"),
		},
	}, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
