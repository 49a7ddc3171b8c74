package metrics

import (
	"context"
	"time"

	"agentd/pkg/llm"
	"agentd/pkg/llm/llmerrors"
	"agentd/pkg/logx"
	"agentd/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor extracts token usage from a request/response pair.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor prefers backend-reported usage and falls back to
// tiktoken-based counting when the backend omitted it.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	if resp.Usage != nil {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}

	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText), utils.CountTokensSimple(resp.Content)
}

// Middleware returns a middleware that records request latency, token usage,
// success/failure rates, and error types for every completion.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	return func(next llm.Client) llm.Client {
		return &client{
			next:      next,
			recorder:  recorder,
			extractor: usageExtractor,
			logger:    logger,
		}
	}
}

type client struct {
	next      llm.Client
	recorder  Recorder
	extractor UsageExtractor
	logger    *logx.Logger
}

var _ llm.Client = (*client)(nil)

func (c *client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	duration := time.Since(start)

	var promptTokens, completionTokens int
	if err == nil {
		promptTokens, completionTokens = c.extractor(req, resp)
	}

	errorType := ""
	if err != nil {
		errorType = llmerrors.TypeOf(err).String()
	}

	c.recorder.ObserveRequest(c.next.Name(), promptTokens, completionTokens, err == nil, errorType, duration)

	if c.logger != nil {
		status := statusSuccess
		if err != nil {
			status = statusError
		}
		c.logger.Debug("completion: backend=%s tokens=%d+%d status=%s duration=%dms",
			c.next.Name(), promptTokens, completionTokens, status, duration.Milliseconds())
	}

	return resp, err
}

// Stream records only stream setup: counting streamed tokens would require
// consuming the stream.
func (c *client) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	start := time.Now()
	ch, err := c.next.Stream(ctx, req)
	duration := time.Since(start)

	errorType := ""
	if err != nil {
		errorType = llmerrors.TypeOf(err).String()
	}
	c.recorder.ObserveRequest(c.next.Name(), 0, 0, err == nil, errorType, duration)

	return ch, err
}

func (c *client) ListModels(ctx context.Context) ([]string, error) {
	return c.next.ListModels(ctx)
}

func (c *client) IsAvailable(ctx context.Context) bool {
	return c.next.IsAvailable(ctx)
}

func (c *client) Name() string {
	return c.next.Name()
}
