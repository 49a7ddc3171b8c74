// Package tools defines the callable tool contract and the concurrency-safe registry
// the conversation runner resolves tool calls against.
package tools

import (
	"context"
	"fmt"
)

// Property describes a single field of a tool's input schema.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
}

// InputSchema is a JSON-schema-shaped description of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is the exported metadata a backend receives for tool calling.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Result is the outcome of executing one tool call. It is always constructible
// from any failure; tool execution never surfaces panics or raw errors to the
// conversation loop.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewResult returns a successful result with the given output.
func NewResult(output string) *Result {
	return &Result{Success: true, Output: output}
}

// NewErrorResult returns a failed result with a formatted error message.
func NewErrorResult(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Content returns the text fed back into the conversation for this result.
func (r *Result) Content() string {
	if r.Success {
		return r.Output
	}
	return fmt.Sprintf("Tool failed: %s", r.Error)
}

// Tool is a named, schema-described capability the backend may request.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	// Exec runs the tool with the given arguments. Implementations should honor
	// ctx cancellation; errors are absorbed into failed Results by the caller.
	Exec(ctx context.Context, args map[string]any) (*Result, error)
}
