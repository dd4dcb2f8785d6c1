package config

import (
	"fmt"
)

var supportedProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
}

// Validate checks a loaded configuration for contradictions before any
// component is constructed from it.
func (c *Config) Validate() error {
	if err := validateProvider("primary", &c.Providers.Primary); err != nil {
		return err
	}
	if c.Providers.Fallback != nil {
		if err := validateProvider("fallback", c.Providers.Fallback); err != nil {
			return err
		}
		if c.Providers.Fallback.Name == c.Providers.Primary.Name &&
			c.Providers.Fallback.Model == c.Providers.Primary.Model {
			return fmt.Errorf("fallback provider must differ from primary")
		}
	}

	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.MaxTokens <= 0 {
		return fmt.Errorf("agent.max_tokens must be positive, got %d", c.Agent.MaxTokens)
	}
	if c.Agent.MaxContextTokens <= 0 {
		return fmt.Errorf("agent.max_context_tokens must be positive, got %d", c.Agent.MaxContextTokens)
	}
	if c.Agent.CompactionThreshold <= 0 || c.Agent.CompactionThreshold >= 1 {
		return fmt.Errorf("agent.compaction_threshold must be in (0,1), got %v", c.Agent.CompactionThreshold)
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		return fmt.Errorf("agent.temperature must be between 0 and 1, got %v", c.Agent.Temperature)
	}
	if c.Agent.ToolTimeoutSeconds <= 0 {
		return fmt.Errorf("agent.tool_timeout_seconds must be positive, got %d", c.Agent.ToolTimeoutSeconds)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}

	return nil
}

func validateProvider(role string, p *ProviderConfig) error {
	if p.Name == "" {
		return fmt.Errorf("%s provider name is required", role)
	}
	if !supportedProviders[p.Name] {
		return fmt.Errorf("unsupported %s provider: %s", role, p.Name)
	}
	if p.APIKey == "" {
		return fmt.Errorf("%s provider api_key is required", role)
	}
	if p.Model == "" {
		return fmt.Errorf("%s provider model is required", role)
	}
	return nil
}
