// Package google provides the Google Gemini backend adapter.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"agentd/pkg/llm"
	"agentd/pkg/llm/llmerrors"
	"agentd/pkg/tools"
)

// Client wraps the Google GenAI client to implement llm.Client.
//
// The underlying SDK client requires a context to construct, so it is created
// lazily on first use and reused afterwards.
type Client struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
	name   string
}

var _ llm.Client = (*Client)(nil)

// New creates a Gemini backend adapter.
func New(name, apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		name:   name,
	}
}

func (c *Client) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.NewWithCause(llmerrors.ErrorTypeNetwork, err, "failed to create Gemini client")
	}
	c.client = client
	return client, nil
}

// convertMessages converts conversation history to Gemini's Content format.
// System messages become the system instruction; tool-role messages become
// function responses inside user-role content. Gemini calls the assistant
// role "model".
func convertMessages(messages []llm.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]

		var role string
		var parts []*genai.Part

		switch msg.Role {
		case llm.RoleSystem:
			if systemInstruction != "" {
				systemInstruction += "\n\n" + msg.Content
			} else {
				systemInstruction = msg.Content
			}
			continue

		case llm.RoleUser:
			role = "user"
			parts = append(parts, &genai.Part{Text: msg.Content})

		case llm.RoleAssistant:
			role = "model"
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Arguments,
					},
				})
			}

		case llm.RoleTool:
			// Gemini matches function responses by function name, not call ID.
			role = "user"
			if msg.Name == "" {
				continue
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name: msg.Name,
					Response: map[string]any{
						"content": msg.Content,
					},
				},
			})

		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return contents, systemInstruction, nil
}

// convertProperty recursively converts a Property to Gemini schema format.
func convertProperty(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{
		Description: prop.Description,
	}

	switch prop.Type {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertProperty(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if prop.Properties != nil {
			properties := make(map[string]*genai.Schema)
			for name, childProp := range prop.Properties {
				if childProp != nil {
					properties[name] = convertProperty(childProp)
				}
			}
			schema.Properties = properties
		}
	default:
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}
	return schema
}

// convertTools converts tool definitions to Gemini function declarations.
func convertTools(defs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema)
		for propName, prop := range def.InputSchema.Properties {
			properties[propName] = convertProperty(&prop)
		}
		declarations[i] = &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		}
	}
	return declarations
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, systemInstruction, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewWithCause(llmerrors.ErrorTypeBadRequest, err, "message conversion error")
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(in.Tools)},
		}
	}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if result == nil {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeServer, "empty response from Gemini API")
	}

	response := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}
	if functionCalls := result.FunctionCalls(); len(functionCalls) > 0 {
		response.ToolCalls = make([]llm.ToolCall, len(functionCalls))
		for i, call := range functionCalls {
			// Gemini omits call IDs; fall back to the function name so tool
			// results can still be correlated.
			id := call.ID
			if id == "" {
				id = call.Name
			}
			response.ToolCalls[i] = llm.ToolCall{
				ID:        id,
				Name:      call.Name,
				Arguments: call.Args,
			}
		}
	}
	return response, nil
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return ""
	}
	return string(result.Candidates[0].FinishReason)
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

// ListModels implements llm.Client. The Gemini adapter serves its configured
// model only.
func (c *Client) ListModels(_ context.Context) ([]string, error) {
	return []string{c.model}, nil
}

// IsAvailable implements llm.Client. Creating the underlying client validates
// the configuration without issuing a completion.
func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.ensureClient(ctx)
	return err == nil
}

// Name implements llm.Client.
func (c *Client) Name() string {
	return c.name
}
