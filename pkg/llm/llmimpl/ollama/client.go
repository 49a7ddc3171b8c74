// Package ollama provides the backend adapter for a local Ollama runtime.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"agentd/pkg/llm"
	"agentd/pkg/llm/llmerrors"
	"agentd/pkg/tools"
)

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
	name   string
}

var _ llm.Client = (*Client)(nil)

// New creates an Ollama backend adapter. hostURL is the Ollama server URL,
// e.g. "http://localhost:11434".
func New(name, hostURL, model string) *Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
		name:   name,
	}
}

// convertMessages converts conversation history to Ollama's message format.
// Ollama supports the tool role natively, so the mapping is direct.
func convertMessages(messages []llm.Message) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	result := make([]api.Message, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		ollamaMsg := api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool {
			ollamaMsg.ToolCallID = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			ollamaMsg.ToolCalls = make([]api.ToolCall, len(msg.ToolCalls))
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args := api.NewToolCallFunctionArguments()
				for k, v := range tc.Arguments {
					args.Set(k, v)
				}
				ollamaMsg.ToolCalls[j] = api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
		}
		result = append(result, ollamaMsg)
	}
	return result, nil
}

// convertProperty converts a tool property to Ollama format.
func convertProperty(prop *tools.Property) api.ToolProperty {
	ollamaProp := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enumVals := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enumVals[i] = v
		}
		ollamaProp.Enum = enumVals
	}
	if prop.Properties != nil {
		nestedProps := make(map[string]api.ToolProperty)
		for name, nestedProp := range prop.Properties {
			nestedProps[name] = convertProperty(nestedProp)
		}
		ollamaProp.Items = map[string]any{
			"type":       "object",
			"properties": nestedProps,
		}
	}
	if prop.Items != nil {
		ollamaProp.Items = convertProperty(prop.Items)
	}
	return ollamaProp
}

// convertTools converts tool definitions to Ollama's tool format.
func convertTools(defs []tools.ToolDefinition) api.Tools {
	ollamaTools := make(api.Tools, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := api.NewToolPropertiesMap()
		for name := range def.InputSchema.Properties {
			prop := def.InputSchema.Properties[name]
			properties.Set(name, convertProperty(&prop))
		}
		ollamaTools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       def.InputSchema.Type,
					Properties: properties,
					Required:   def.InputSchema.Required,
				},
			},
		}
	}
	return ollamaTools
}

func (c *Client) buildRequest(in *llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewWithCause(llmerrors.ErrorTypeBadRequest, err, "message conversion error")
	}
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}
	return req, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	req, err := c.buildRequest(&in, false)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var response api.ChatResponse
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}

	result := llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
	}
	if len(response.Message.ToolCalls) > 0 {
		result.ToolCalls = make([]llm.ToolCall, len(response.Message.ToolCalls))
		for i := range response.Message.ToolCalls {
			call := &response.Message.ToolCalls[i]
			id := call.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", i)
			}
			result.ToolCalls[i] = llm.ToolCall{
				ID:        id,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments.ToMap(),
			}
		}
	}
	if response.PromptEvalCount > 0 || response.EvalCount > 0 {
		result.Usage = &llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		}
	}
	return result, nil
}

// Stream implements llm.Client. Ollama streams natively; each server chunk is
// forwarded as it arrives.
func (c *Client) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	req, err := c.buildRequest(&in, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				select {
				case ch <- llm.StreamChunk{Content: resp.Message.Content}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if resp.Done {
				select {
				case ch <- llm.StreamChunk{Done: true}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			select {
			case ch <- llm.StreamChunk{Error: llmerrors.Classify(err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

// ListModels implements llm.Client.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, llmerrors.Classify(err)
	}
	names := make([]string, 0, len(resp.Models))
	for i := range resp.Models {
		names = append(names, resp.Models[i].Name)
	}
	return names, nil
}

// IsAvailable implements llm.Client.
func (c *Client) IsAvailable(ctx context.Context) bool {
	return c.client.Heartbeat(ctx) == nil
}

// Name implements llm.Client.
func (c *Client) Name() string {
	return c.name
}
