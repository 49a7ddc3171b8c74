package subagent_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentd/pkg/llm"
	"agentd/pkg/subagent"
	"agentd/pkg/tools"
)

// blockingClient blocks every completion until released, so tests can hold
// spawns in flight.
type blockingClient struct {
	mu      sync.Mutex
	calls   int
	lastReq llm.CompletionRequest
	release chan struct{}
	err     error
}

func newBlockingClient() *blockingClient {
	return &blockingClient{release: make(chan struct{})}
}

func (b *blockingClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	b.mu.Lock()
	b.calls++
	b.lastReq = req
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-ctx.Done():
		return llm.CompletionResponse{}, ctx.Err()
	}
	if b.err != nil {
		return llm.CompletionResponse{}, b.err
	}
	return llm.CompletionResponse{Content: "sub-agent answer"}, nil
}

func (b *blockingClient) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (b *blockingClient) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (b *blockingClient) IsAvailable(_ context.Context) bool             { return true }
func (b *blockingClient) Name() string                                   { return "blocking" }

func (b *blockingClient) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *blockingClient) lastRequest() llm.CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReq
}

func TestSpawnRejectsBeyondCapacity(t *testing.T) {
	client := newBlockingClient()
	sup := subagent.New(client, tools.NewRegistry(), nil, nil, subagent.Config{
		MaxConcurrent: 1,
		Model:         "test-model",
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := sup.Spawn(context.Background(), subagent.Request{Task: "long task"})
		assert.NoError(t, err)
	}()

	// Wait for the first spawn to occupy the slot.
	require.Eventually(t, func() bool { return sup.Active() == 1 },
		time.Second, time.Millisecond)

	callsBefore := client.callCount()
	_, err := sup.Spawn(context.Background(), subagent.Request{Task: "rejected task"})
	require.ErrorIs(t, err, subagent.ErrAtCapacity)
	assert.Equal(t, callsBefore, client.callCount(), "rejected spawn starts no work")
	assert.Equal(t, 1, sup.Active())

	close(client.release)
	wg.Wait()
	assert.Equal(t, 0, sup.Active())
}

func TestConcurrentSpawnsWithinCapacity(t *testing.T) {
	client := newBlockingClient()
	sup := subagent.New(client, tools.NewRegistry(), nil, nil, subagent.Config{
		MaxConcurrent: 2,
		Model:         "test-model",
	})

	var wg sync.WaitGroup
	results := make([]*subagent.Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := sup.Spawn(context.Background(), subagent.Request{Task: "task"})
			assert.NoError(t, err)
			results[n] = res
		}(i)
	}

	require.Eventually(t, func() bool { return sup.Active() == 2 },
		time.Second, time.Millisecond)

	close(client.release)
	wg.Wait()

	assert.Equal(t, 0, sup.Active(), "active count restored after completion")

	history := sup.History()
	require.Len(t, history, 2)
	assert.NotEqual(t, results[0].SessionID, results[1].SessionID)
	for _, res := range results {
		assert.True(t, strings.HasPrefix(res.SessionID, "subagent-"))
		assert.True(t, res.Success)
		assert.Equal(t, "sub-agent answer", res.Content)
	}
}

func TestSpawnAbsorbsRunErrors(t *testing.T) {
	client := newBlockingClient()
	client.err = errors.New("backend melted")
	close(client.release)

	sup := subagent.New(client, tools.NewRegistry(), nil, nil, subagent.Config{Model: "test-model"})

	res, err := sup.Spawn(context.Background(), subagent.Request{Task: "doomed"})
	require.NoError(t, err, "run failures never propagate to the spawn caller")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "backend melted")
	assert.Empty(t, res.Content)

	history := sup.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Contains(t, history[0].Error, "backend melted")
}

func TestSpawnUsesConfiguredSystemPrompt(t *testing.T) {
	client := newBlockingClient()
	close(client.release)
	sup := subagent.New(client, tools.NewRegistry(), nil, nil, subagent.Config{
		Model:        "test-model",
		SystemPrompt: "you are the planning assistant",
	})

	_, err := sup.Spawn(context.Background(), subagent.Request{Task: "plan the release"})
	require.NoError(t, err)

	msgs := client.lastRequest().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "you are the planning assistant", msgs[0].Content)
	assert.Equal(t, "plan the release", msgs[1].Content)

	// A per-request override still wins over the configured default.
	_, err = sup.Spawn(context.Background(), subagent.Request{
		Task:         "plan the release",
		SystemPrompt: "you are the release auditor",
	})
	require.NoError(t, err)
	assert.Equal(t, "you are the release auditor", client.lastRequest().Messages[0].Content)
}

func TestSpawnPropagatesCancellation(t *testing.T) {
	client := newBlockingClient()
	sup := subagent.New(client, tools.NewRegistry(), nil, nil, subagent.Config{Model: "test-model"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var spawnErr error
	go func() {
		defer close(done)
		_, spawnErr = sup.Spawn(ctx, subagent.Request{Task: "task"})
	}()

	require.Eventually(t, func() bool { return sup.Active() == 1 },
		time.Second, time.Millisecond)
	cancel()
	<-done

	require.ErrorIs(t, spawnErr, context.Canceled)
	assert.Empty(t, sup.History(), "cancelled runs are not recorded")
	assert.Equal(t, 0, sup.Active())
}

func TestSpawnToolDelegates(t *testing.T) {
	client := newBlockingClient()
	close(client.release)
	sup := subagent.New(client, tools.NewRegistry(), nil, nil, subagent.Config{Model: "test-model"})
	tool := subagent.NewSpawnTool(sup)

	assert.Equal(t, "spawn_subagent", tool.Name())

	res, err := tool.Exec(context.Background(), map[string]any{"task": "summarize"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "sub-agent answer")

	res, err = tool.Exec(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "task is required")
}
