package ai

import (
	"context"
	"fmt"

	"resumatch/internal/config"
)

// Output-token budget shared by all provider variants.
const maxOutputTokens = 2048

// Provider abstracts over interchangeable AI backends. Implementations send
// the prompt as the sole user message and return the trimmed raw completion.
// Errors propagate unmodified; retry policy belongs to the task scheduler.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewProvider builds the provider variant selected by configuration.
// The set is closed; selection happens once at construction time.
func NewProvider(cfg config.AIConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "anthropic":
		return newAnthropicProvider(cfg.AnthropicKey, cfg.AnthropicModel), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
