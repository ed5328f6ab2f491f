package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no API key or provider is set.
	ErrNotConfigured = errors.New("llm provider is not configured")
	// ErrNonAnswer marks a completion that declines to answer.
	ErrNonAnswer = errors.New("llm returned a non-answer")
	// ErrEmptyCompletion marks a completion with no usable text.
	ErrEmptyCompletion = errors.New("llm returned an empty completion")
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type Completion struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is one chat-completion backend.
type Provider interface {
	Name() string
	Model() string
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// NewProvider builds the provider named in cfg.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q: %w", cfg.Provider, ErrNotConfigured)
	}
}
