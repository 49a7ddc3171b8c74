// Package subagent implements the bounded-concurrency supervisor that spawns
// isolated conversation runs for parallel sub-tasks.
package subagent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agentd/pkg/agent"
	"agentd/pkg/bus"
	"agentd/pkg/llm"
	"agentd/pkg/logx"
	"agentd/pkg/runstore"
	"agentd/pkg/tools"
)

// ErrAtCapacity is returned when a spawn is rejected because the active-run
// limit has been reached. Rejection is synchronous: no work is started.
var ErrAtCapacity = errors.New("sub-agent supervisor at capacity")

// DefaultSystemPrompt seeds a spawned run when the request carries no
// override.
const DefaultSystemPrompt = "You are a focused sub-agent. Complete the assigned task and report the outcome concisely."

// Request describes one sub-task to run in isolation.
type Request struct {
	Task          string // task text, becomes the user message
	Model         string // optional model override
	SystemPrompt  string // optional system-prompt override
	MaxIterations int    // optional iteration cap override
}

// Result records one finished spawn. Created once, never mutated.
type Result struct {
	SessionID   string
	Success     bool
	Content     string // final content; empty on failure
	Error       string // error text; empty on success
	StartedAt   time.Time
	CompletedAt time.Time
}

// Config holds supervisor tuning.
type Config struct {
	MaxConcurrent int    // active-run capacity; <=0 means 4
	Model         string // default model for spawns without an override
	MaxIterations int    // default iteration cap; <=0 means 8
	SystemPrompt  string // default system prompt; empty means DefaultSystemPrompt
	Temperature   float32
	MaxTokens     int
}

const (
	defaultMaxConcurrent = 4
	defaultMaxIterations = 8
)

// Supervisor bounds how many conversation runs execute concurrently. The
// active counter and the completed history share one mutex so concurrent
// spawns cannot race capacity checks against history appends.
type Supervisor struct {
	client   llm.Client
	registry *tools.Registry
	events   *bus.Bus
	store    *runstore.Store // optional archive, best-effort
	cfg      Config
	logger   *logx.Logger

	mu      sync.Mutex
	active  int
	history []Result
}

// Process-wide gauge: supervisors share it, so construction stays cheap and
// re-registration panics are impossible in tests.
var activeGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "subagent_active_runs",
	Help: "Number of sub-agent runs currently executing",
})

// New creates a supervisor. events and store may be nil.
func New(client llm.Client, registry *tools.Registry, events *bus.Bus, store *runstore.Store, cfg Config) *Supervisor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Supervisor{
		client:   client,
		registry: registry,
		events:   events,
		store:    store,
		cfg:      cfg,
		logger:   logx.NewLogger("subagent"),
	}
}

// Spawn runs one sub-task to completion. It rejects synchronously with
// ErrAtCapacity when the active-run limit is reached; it does not queue.
// Non-cancellation run failures are absorbed into a success=false Result;
// cancellation propagates as-is and records nothing.
func (s *Supervisor) Spawn(ctx context.Context, req Request) (*Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	sessionID := "subagent-" + uuid.NewString()
	startedAt := time.Now()
	s.logger.Info("spawn %s: task=%q model=%s", sessionID, truncate(req.Task, 80), s.model(req))

	s.publish(ctx, bus.TopicSubAgentSpawned, map[string]any{"session_id": sessionID})

	runResult, err := s.run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is never converted into a Result.
			return nil, ctx.Err()
		}
		result := s.record(Result{
			SessionID:   sessionID,
			Success:     false,
			Error:       err.Error(),
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
		}, req)
		s.publish(ctx, bus.TopicSubAgentCompleted, map[string]any{"session_id": sessionID, "success": false})
		return result, nil
	}

	result := s.record(Result{
		SessionID:   sessionID,
		Success:     true,
		Content:     runResult.Content,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}, req)
	s.publish(ctx, bus.TopicSubAgentCompleted, map[string]any{"session_id": sessionID, "success": true})
	return result, nil
}

func (s *Supervisor) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.cfg.MaxConcurrent {
		return ErrAtCapacity
	}
	s.active++
	activeGauge.Inc()
	return nil
}

func (s *Supervisor) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	activeGauge.Dec()
}

func (s *Supervisor) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return s.cfg.Model
}

// run executes the isolated conversation for one spawn.
func (s *Supervisor) run(ctx context.Context, req Request) (*agent.Result, error) {
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.cfg.SystemPrompt
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = s.cfg.MaxIterations
	}

	runner := agent.NewRunner(s.client, s.registry, s.events, agent.Config{
		MaxIterations: maxIterations,
		MaxTokens:     s.cfg.MaxTokens,
		Temperature:   s.cfg.Temperature,
	})
	return runner.Run(ctx, agent.Request{
		Model: s.model(req),
		Messages: []llm.Message{
			llm.NewSystemMessage(systemPrompt),
			llm.NewUserMessage(req.Task),
		},
	})
}

// record appends the result to the completed history and archives it
// best-effort.
func (s *Supervisor) record(result Result, req Request) *Result {
	s.mu.Lock()
	s.history = append(s.history, result)
	s.mu.Unlock()

	if s.store != nil {
		rec := runstore.Record{
			SessionID:   result.SessionID,
			Task:        req.Task,
			Model:       s.model(req),
			Success:     result.Success,
			Content:     result.Content,
			Error:       result.Error,
			StartedAt:   result.StartedAt,
			CompletedAt: result.CompletedAt,
		}
		// Archival uses its own context: the spawn may already be torn down.
		if err := s.store.Save(context.Background(), rec); err != nil {
			s.logger.Warn("failed to archive run %s: %v", result.SessionID, err)
		}
	}
	return &result
}

func (s *Supervisor) publish(ctx context.Context, topic string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, bus.Event{Topic: topic, Payload: payload}); err != nil {
		s.logger.Warn("event publish failed for %s: %v", topic, err)
	}
}

// Active returns the number of currently executing runs.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// History returns a snapshot of completed results in completion order.
func (s *Supervisor) History() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.history))
	copy(out, s.history)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
