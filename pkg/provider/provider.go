// Package provider abstracts model backends behind a single chat
// interface so the agent loop never touches vendor SDKs directly.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/nadhif/lira/internal/config"
)

// ChatProvider is a model backend capable of tool-calling conversations
type ChatProvider interface {
	// Chat sends a full conversation and returns the model's reply
	Chat(ctx context.Context, request ChatRequest) (*ChatResponse, error)

	// EstimateTokens approximates the token footprint of a conversation
	// using the backend's own tokenization characteristics
	EstimateTokens(messages []Message) int

	// Name returns the provider name, e.g. "anthropic"
	Name() string
}

// New creates a provider from its configuration
func New(cfg config.ProviderConfig) (ChatProvider, error) {
	switch cfg.Name {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}

// IsRetryable reports whether an error is transient (rate limit or
// server-side failure) rather than a permanent request problem.
func IsRetryable(err error) bool {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}

	return false
}

func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}
