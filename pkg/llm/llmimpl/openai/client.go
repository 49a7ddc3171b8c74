// Package openai provides the OpenAI backend adapter built on the official
// Go SDK's Responses API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"agentd/pkg/llm"
	"agentd/pkg/llm/llmerrors"
	"agentd/pkg/tools"
)

// Client wraps the official OpenAI client to implement llm.Client.
type Client struct {
	client openai.Client
	model  string
	name   string
}

var _ llm.Client = (*Client)(nil)

// New creates an OpenAI backend adapter. baseURL may be empty for the default
// API endpoint.
func New(name, apiKey, model, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		name:   name,
	}
}

// convertPropertyToSchema recursively converts a Property to OpenAI schema format.
func convertPropertyToSchema(prop *tools.Property) map[string]any {
	schema := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertPropertyToSchema(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any)
		for name, childProp := range prop.Properties {
			if childProp != nil {
				properties[name] = convertPropertyToSchema(childProp)
			}
		}
		schema["properties"] = properties
	}
	return schema
}

// parseArguments decodes a function call's raw JSON arguments. An empty
// string means the model called the tool with no arguments.
func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, llmerrors.NewWithCause(llmerrors.ErrorTypeUnknown, err, "failed to parse tool arguments")
	}
	return args, nil
}

// renderInput folds the conversation into the Responses API single-input form.
// Tool results are labeled so the model can correlate them with its own calls.
func renderInput(messages []llm.Message) string {
	var inputText string
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			inputText += fmt.Sprintf("System: %s\n\n", msg.Content)
		case llm.RoleUser:
			inputText += msg.Content + "\n\n"
		case llm.RoleAssistant:
			if msg.Content != "" {
				inputText += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
			}
			for j := range msg.ToolCalls {
				args, _ := json.Marshal(msg.ToolCalls[j].Arguments)
				inputText += fmt.Sprintf("Assistant called tool %s (%s) with %s\n\n",
					msg.ToolCalls[j].Name, msg.ToolCalls[j].ID, args)
			}
		case llm.RoleTool:
			inputText += fmt.Sprintf("Tool result for %s (%s):\n%s\n\n",
				msg.Name, msg.ToolCallID, msg.Content)
		}
	}
	return inputText
}

// Complete implements llm.Client using the Responses API.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(renderInput(in.Messages))},
	}

	if len(in.Tools) > 0 {
		toolParams := make([]responses.ToolUnionParam, len(in.Tools))
		for i := range in.Tools {
			def := &in.Tools[i]
			properties := make(map[string]any)
			for name, prop := range def.InputSchema.Properties {
				properties[name] = convertPropertyToSchema(&prop)
			}
			toolParams[i] = responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters: openai.FunctionParameters(map[string]any{
						"type":       "object",
						"properties": properties,
						"required":   def.InputSchema.Required,
					}),
				},
			}
		}
		params.Tools = toolParams
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeServer, "empty response from OpenAI API")
	}

	var toolCalls []llm.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			continue
		}
		funcItem := item.AsFunctionCall()
		args, err := parseArguments(funcItem.Arguments)
		if err != nil {
			return llm.CompletionResponse{}, err
		}
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:        funcItem.ID,
			Name:      funcItem.Name,
			Arguments: args,
		})
	}

	out := llm.CompletionResponse{
		Content:   resp.OutputText(),
		ToolCalls: toolCalls,
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
	page, err := c.client.Models.List(ctx)
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
