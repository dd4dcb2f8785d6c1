package config

// Config represents the main Lira configuration
type Config struct {
	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Agent behavior
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Skills
	Skills SkillsConfig `json:"skills" mapstructure:"skills"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path for file and shell tools
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// ProvidersConfig holds the primary and optional fallback model providers
type ProvidersConfig struct {
	Primary  ProviderConfig  `json:"primary" mapstructure:"primary"`
	Fallback *ProviderConfig `json:"fallback,omitempty" mapstructure:"fallback"`
}

// ProviderConfig identifies one model provider endpoint
type ProviderConfig struct {
	Name    string `json:"name" mapstructure:"name"` // anthropic, openai
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	Model   string `json:"model" mapstructure:"model"`
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`
}

// AgentConfig configures the turn loop
type AgentConfig struct {
	SystemPrompt        string   `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTurns            int      `json:"max_turns" mapstructure:"max_turns"`
	MaxTokens           int      `json:"max_tokens" mapstructure:"max_tokens"`
	MaxContextTokens    int      `json:"max_context_tokens" mapstructure:"max_context_tokens"`
	CompactionThreshold float64  `json:"compaction_threshold" mapstructure:"compaction_threshold"`
	Temperature         float64  `json:"temperature" mapstructure:"temperature"`
	Tools               []string `json:"tools,omitempty" mapstructure:"tools"`
	ToolTimeoutSeconds  int      `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
}

// ToolsConfig holds tool configuration
type ToolsConfig struct {
	ExecApprovals ExecApprovalsConfig `json:"exec_approvals" mapstructure:"exec_approvals"`
}

// ExecApprovalsConfig holds exec approval settings
type ExecApprovalsConfig struct {
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	AllowlistPath string `json:"allowlist_path" mapstructure:"allowlist_path"`
}

// SkillsConfig holds skill selection settings
type SkillsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" mapstructure:"dir"`
	Watch   bool   `json:"watch" mapstructure:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds tracer provider settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a configuration with sane defaults
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Primary: ProviderConfig{
				Name:  "anthropic",
				Model: "claude-3-5-sonnet-20241022",
			},
		},
		Agent: AgentConfig{
			SystemPrompt:        "You are Lira, a careful local coding assistant. Prefer small verifiable steps.",
			MaxTurns:            15,
			MaxTokens:           4096,
			MaxContextTokens:    32000,
			CompactionThreshold: 0.8,
			Temperature:         0.7,
			ToolTimeoutSeconds:  30,
		},
		Tools: ToolsConfig{
			ExecApprovals: ExecApprovalsConfig{
				Enabled: true,
			},
		},
		Skills: SkillsConfig{
			Enabled: true,
			Watch:   true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			SampleRatio: 1.0,
		},
	}
}
