// Package agent implements the conversation runner: the iterative think-act
// loop that drives a backend completion client and a set of callable tools to
// a terminal result.
package agent

import (
	"context"
	"fmt"
	"time"

	"agentd/pkg/bus"
	"agentd/pkg/llm"
	"agentd/pkg/logx"
	"agentd/pkg/tools"
	"agentd/pkg/utils"
)

// ToolExecution records one dispatched tool call, in emission order.
type ToolExecution struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Result     *tools.Result  `json:"result"`
}

// Result is the outcome of one runner invocation: final content plus every
// tool execution accumulated across all iterations. Produced exactly once per
// run and not mutated afterwards.
type Result struct {
	Content    string          `json:"content"`
	Executions []ToolExecution `json:"executions"`
	Messages   []llm.Message   `json:"messages"` // final history; persisting it is the caller's job
}

// Request configures one runner invocation.
type Request struct {
	Model    string        // model identifier passed through to the backend
	Messages []llm.Message // initial ordered history; the runner appends to a copy
}

// Config holds runner tuning. Zero values fall back to the defaults.
type Config struct {
	MaxIterations int
	MaxTokens     int
	Temperature   float32
}

const (
	defaultMaxIterations = 10
	defaultMaxTokens     = 4096
)

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
}

// Runner drives the think-act loop. Each iteration sends the accumulated
// history to the backend, executes any requested tool calls in emitted order,
// and feeds their results back. The loop terminates on a response with zero
// tool calls or when the iteration budget is spent.
type Runner struct {
	client   llm.Client
	registry *tools.Registry
	events   *bus.Bus
	cfg      Config
	logger   *logx.Logger
}

// NewRunner creates a runner. events may be nil when no lifecycle
// notifications are wanted.
func NewRunner(client llm.Client, registry *tools.Registry, events *bus.Bus, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{
		client:   client,
		registry: registry,
		events:   events,
		cfg:      cfg,
		logger:   logx.NewLogger("runner"),
	}
}

// Run executes the loop to completion. Backend errors propagate after the
// resilience layer exhausts its own retries; tool failures never propagate —
// they are absorbed into failed results and fed back into the conversation.
// Cancellation aborts immediately and is never converted into a Result.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	history := make([]llm.Message, len(req.Messages))
	copy(history, req.Messages)

	var executions []ToolExecution

	// Nil when no tools are registered: some backends treat a present-but-empty
	// tool list differently from no tool list.
	toolDefs := r.registry.Definitions()

	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		creq := llm.CompletionRequest{
			Model:       req.Model,
			Messages:    history,
			Tools:       toolDefs,
			Temperature: r.cfg.Temperature,
			MaxTokens:   r.cfg.MaxTokens,
		}

		r.logger.Info("starting completion: model=%s messages=%d tools=%d iteration=%d/%d",
			req.Model, len(history), len(toolDefs), iteration+1, r.cfg.MaxIterations)

		start := time.Now()
		resp, err := r.client.Complete(ctx, creq)
		duration := time.Since(start)
		if err != nil {
			r.logger.Error("completion failed after %.3gs: %v", duration.Seconds(), err)
			return nil, fmt.Errorf("completion failed: %w", err)
		}

		r.logger.Info("completion done in %.3gs: %d chars, %d tool calls, ~%d tokens",
			duration.Seconds(), len(resp.Content), len(resp.ToolCalls),
			utils.CountTokensSimple(resp.Content))

		if len(resp.ToolCalls) == 0 {
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return &Result{Content: resp.Content, Executions: executions, Messages: history}, nil
		}

		for i := range resp.ToolCalls {
			call := &resp.ToolCalls[i]
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			r.publish(ctx, bus.TopicToolStarted, map[string]any{
				"tool_call_id": call.ID,
				"tool":         call.Name,
			})

			result := r.dispatch(ctx, call)
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			r.publish(ctx, bus.TopicToolCompleted, map[string]any{
				"tool_call_id": call.ID,
				"tool":         call.Name,
				"success":      result.Success,
			})

			executions = append(executions, ToolExecution{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Arguments:  call.Arguments,
				Result:     result,
			})
			history = append(history, llm.NewToolMessage(call.ID, call.Name, result.Content()))
		}

		// Mirror the backend's raw turn so subsequent iterations retain the
		// assistant's framing of its own tool calls.
		history = append(history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
	}

	// Budget spent: graceful termination, not an error.
	r.logger.Warn("iteration limit (%d) reached", r.cfg.MaxIterations)
	content := fmt.Sprintf("Reached maximum iterations (%d) without a final answer.", r.cfg.MaxIterations)
	return &Result{Content: content, Executions: executions, Messages: history}, nil
}

// dispatch resolves and executes one tool call. It never returns an error:
// unknown tools and execution failures (including panics) become failed
// results fed back into the conversation.
func (r *Runner) dispatch(ctx context.Context, call *llm.ToolCall) (result *tools.Result) {
	tool, ok := r.registry.Get(call.Name)
	if !ok {
		r.logger.Warn("tool '%s' not found", call.Name)
		return tools.NewErrorResult("tool '%s' not found", call.Name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool %s panicked: %v", call.Name, rec)
			result = tools.NewErrorResult("tool '%s' panicked: %v", call.Name, rec)
		}
	}()

	start := time.Now()
	res, err := tool.Exec(ctx, call.Arguments)
	duration := time.Since(start)
	if err != nil {
		r.logger.Error("tool %s failed after %.3fs: %v", call.Name, duration.Seconds(), err)
		return tools.NewErrorResult("%v", err)
	}
	r.logger.Info("tool %s completed in %.3fs", call.Name, duration.Seconds())
	if res == nil {
		return tools.NewResult("")
	}
	return res
}

// publish sends a lifecycle notification. Delivery is best-effort: a failing
// subscriber is logged and never aborts the loop.
func (r *Runner) publish(ctx context.Context, topic string, payload map[string]any) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, bus.Event{Topic: topic, Payload: payload}); err != nil {
		r.logger.Warn("event publish failed for %s: %v", topic, err)
	}
}
