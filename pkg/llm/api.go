// Package llm defines the completion types and client interface for language
// model backends, plus the failover layer that presents many backends as one.
package llm

import (
	"context"

	"agentd/pkg/tools"
)

// Role represents the role of a message in a conversation.
type Role string

const (
	// RoleSystem carries instructions or context for the model.
	RoleSystem Role = "system"
	// RoleUser is a message from the human user (or spawning agent).
	RoleUser Role = "user"
	// RoleAssistant is a message from the model.
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of one executed tool call.
	RoleTool Role = "tool"
)

// ToolCall is a backend-issued request to invoke a tool with arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one entry in a conversation history. Histories are ordered and
// append-only within a single runner invocation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages only
	Name       string     `json:"name,omitempty"`         // tool messages only
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewToolMessage creates a tool-result message correlated to a tool call.
func NewToolMessage(toolCallID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID, Name: toolName}
}

// Usage carries token counters reported by a backend, when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionRequest is a request to generate a completion.
//
// Tools must be nil (not an empty slice) when no tools are offered: some
// backends treat a present-but-empty tool list differently from no tool list.
type CompletionRequest struct {
	Model       string                 `json:"model"`
	Messages    []Message              `json:"messages"`
	Tools       []tools.ToolDefinition `json:"tools,omitempty"`
	Temperature float32                `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
}

// CompletionResponse is a backend's answer to a completion request.
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"` // ordered as emitted
	StopReason string     `json:"stop_reason"`
	Usage      *Usage     `json:"usage,omitempty"`
}

// StreamChunk is one piece of a streamed completion.
type StreamChunk struct {
	Content string
	Done    bool
	Error   error
}

// Client is the language model backend abstraction.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream generates a completion as an ordered sequence of chunks. The
	// returned channel is closed after the final chunk.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ListModels reports the models this backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// IsAvailable reports whether the backend currently answers requests.
	// Informational only; completion calls always follow priority order.
	IsAvailable(ctx context.Context) bool

	// Name identifies this backend instance in logs and errors.
	Name() string
}
