package provider

import "encoding/json"

// Message is one entry of a conversation sent to a model.
// Role is one of "system", "user", "assistant" or "tool".
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model's request to invoke a tool. Args stays raw JSON so
// that malformed arguments surface at dispatch time, not inside the
// provider adapter.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDescriptor describes a tool to the model
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// TokenUsage reports actual token consumption for one call
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatRequest contains the parameters for one model call
type ChatRequest struct {
	Messages     []Message
	Tools        []ToolDescriptor
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// ChatResponse contains the model's reply. ToolCalls is empty when the
// model answered with plain text.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}
