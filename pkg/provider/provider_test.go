package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadhif/lira/internal/config"
)

func TestNew_SupportedProviders(t *testing.T) {
	p, err := New(config.ProviderConfig{Name: "anthropic", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = New(config.ProviderConfig{Name: "openai", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(config.ProviderConfig{Name: "gemini", APIKey: "k", Model: "m"})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestEstimateTokens_GrowsWithContent(t *testing.T) {
	providers := []ChatProvider{
		NewAnthropicProvider("k", "m", ""),
		NewOpenAIProvider("k", "m", ""),
	}

	short := []Message{{Role: "user", Content: "hi"}}
	long := []Message{{Role: "user", Content: strings.Repeat("lorem ipsum ", 100)}}

	for _, p := range providers {
		assert.Positive(t, p.EstimateTokens(short), p.Name())
		assert.Greater(t, p.EstimateTokens(long), p.EstimateTokens(short), p.Name())
	}
}

func TestEstimateTokens_CountsToolCalls(t *testing.T) {
	p := NewAnthropicProvider("k", "m", "")

	plain := []Message{{Role: "assistant", Content: "done"}}
	withCalls := []Message{{
		Role:    "assistant",
		Content: "done",
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "exec", Args: []byte(`{"command":"ls -la /some/long/path"}`)},
		},
	}}

	assert.Greater(t, p.EstimateTokens(withCalls), p.EstimateTokens(plain))
}

func TestIsRetryable_UnknownError(t *testing.T) {
	assert.False(t, IsRetryable(assert.AnError))
	assert.False(t, IsRetryable(nil))
}
