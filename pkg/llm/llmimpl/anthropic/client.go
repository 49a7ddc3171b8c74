// Package anthropic provides the Anthropic Claude backend adapter.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentd/pkg/llm"
	"agentd/pkg/llm/llmerrors"
)

// Client wraps the Anthropic API client to implement llm.Client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
	name   string
}

var _ llm.Client = (*Client)(nil)

// New creates a Claude backend adapter. baseURL may be empty for the default
// API endpoint.
func New(name, apiKey, model, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
		name:   name,
	}
}

// renderToolCalls serializes assistant tool calls into text so the turn is
// representable when history is replayed to the API.
func renderToolCalls(calls []llm.ToolCall) string {
	var sb strings.Builder
	for i := range calls {
		args, _ := json.Marshal(calls[i].Arguments)
		fmt.Fprintf(&sb, "[tool call %s: %s(%s)]\n", calls[i].ID, calls[i].Name, args)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ensureAlternation prepares messages for Anthropic API requirements:
// system messages are extracted to the top-level system parameter,
// consecutive non-assistant messages (user, tool) are merged into single user
// messages, and the result strictly alternates user and assistant.
func ensureAlternation(messages []llm.Message) (systemPrompt string, out []anthropic.MessageParam, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var userParts []string

	flushUser := func() {
		if len(userParts) > 0 {
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(strings.Join(userParts, "\n\n"))},
			})
			userParts = nil
		}
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser:
			userParts = append(userParts, msg.Content)

		case llm.RoleTool:
			userParts = append(userParts, fmt.Sprintf("Tool result for %s (%s):\n%s",
				msg.Name, msg.ToolCallID, msg.Content))

		case llm.RoleAssistant:
			flushUser()
			text := msg.Content
			if len(msg.ToolCalls) > 0 {
				if text != "" {
					text += "\n"
				}
				text += renderToolCalls(msg.ToolCalls)
			}
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)},
			})

		default:
			return "", nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}
	flushUser()

	if len(out) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := ensureAlternation(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewWithCause(llmerrors.ErrorTypeBadRequest, err, "message conversion error")
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	if len(in.Tools) > 0 {
		toolParams := make([]anthropic.ToolUnionParam, 0, len(in.Tools))
		for i := range in.Tools {
			def := &in.Tools[i]
			properties := make(map[string]any, len(def.InputSchema.Properties))
			for name, prop := range def.InputSchema.Properties {
				propMap := map[string]any{"type": prop.Type}
				if prop.Description != "" {
					propMap["description"] = prop.Description
				}
				if len(prop.Enum) > 0 {
					propMap["enum"] = prop.Enum
				}
				properties[name] = propMap
			}
			schema := anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: properties,
				Required:   def.InputSchema.Required,
			}
			toolParams = append(toolParams, anthropic.ToolUnionParamOfTool(schema, def.Name))
		}
		params.Tools = toolParams
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeServer, "empty response from Claude API")
	}

	var content string
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.CompletionResponse{}, llmerrors.NewWithCause(llmerrors.ErrorTypeUnknown, err, "failed to parse tool input")
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}

	out := llm.CompletionResponse{
		Content:    content,
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
	}
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		out.Usage = &llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		}
	}
	return out, nil
}

// Stream implements llm.Client. Implemented over Complete: the full response
// is delivered as a single chunk.
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// ListModels implements llm.Client.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, llmerrors.Classify(err)
	}
	names := make([]string, 0, len(page.Data))
	for i := range page.Data {
		names = append(names, page.Data[i].ID)
	}
	return names, nil
}

// IsAvailable implements llm.Client.
func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.ListModels(ctx)
	return err == nil
}

// Name implements llm.Client.
func (c *Client) Name() string {
	return c.name
}
