// Package llm defines the chat-completion capability the orchestration
// engine depends on, and ships an OpenAI-compatible HTTP implementation.
package llm

import (
	"context"
	"errors"
)

// Provider turns a list of role-tagged messages plus tool declarations into
// either a final answer or a list of requested tool calls.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ErrUpstreamTimeout is returned when the model did not answer before the
// request deadline.
var ErrUpstreamTimeout = errors.New("llm: upstream timeout")

// ErrEmptyResponse is returned when the model answered without any choice.
var ErrEmptyResponse = errors.New("llm: response has no choices")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation window. Assistant messages may carry
// ToolCalls; tool messages carry the ToolCallID they answer.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Arguments is the raw JSON object produced by the model.
	Arguments string `json:"arguments"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatRequest struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	Tools       []ToolDefinition
}

// ToolDefinition is the model-facing declaration of a tool. Parameters is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ChatResponse struct {
	Content      string
	FinishReason FinishReason
	ToolCalls    []ToolCall
	Usage        Usage
	Model        string
}

// Message converts the response into the assistant message that belongs in
// the conversation window.
func (r *ChatResponse) Message() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}
