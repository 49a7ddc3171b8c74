package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentd/pkg/llm"
	"agentd/pkg/llm/llmerrors"
)

// scriptedClient returns one scripted outcome per Complete call.
type scriptedClient struct {
	name      string
	outcomes  []error // nil means success
	calls     int
	available bool
	models    []string
	onCall    func(call int)
}

func (s *scriptedClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	call := s.calls
	s.calls++
	if s.onCall != nil {
		s.onCall(call)
	}
	if call < len(s.outcomes) && s.outcomes[call] != nil {
		return llm.CompletionResponse{}, s.outcomes[call]
	}
	return llm.CompletionResponse{Content: s.name + " response"}, nil
}

func (s *scriptedClient) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	call := s.calls
	s.calls++
	if call < len(s.outcomes) && s.outcomes[call] != nil {
		return nil, s.outcomes[call]
	}
	ch := make(chan llm.StreamChunk, 3)
	ch <- llm.StreamChunk{Content: s.name + " chunk"}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *scriptedClient) ListModels(_ context.Context) ([]string, error) {
	if s.models == nil {
		return nil, errors.New("list failed")
	}
	return s.models, nil
}

func (s *scriptedClient) IsAvailable(_ context.Context) bool { return s.available }

func (s *scriptedClient) Name() string { return s.name }

func fastConfig() llm.FailoverConfig {
	return llm.FailoverConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func transientErr() error {
	return llmerrors.New(llmerrors.ErrorTypeServer, "503 service unavailable")
}

func permanentErr(msg string) error {
	return llmerrors.New(llmerrors.ErrorTypeAuth, msg)
}

func TestFailoverSuccessFirstTry(t *testing.T) {
	a := &scriptedClient{name: "a"}
	b := &scriptedClient{name: "b"}
	f := llm.NewFailover(fastConfig(), a, b)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a response", resp.Content)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestFailoverRetriesTransientOnSameBackend(t *testing.T) {
	a := &scriptedClient{name: "a", outcomes: []error{transientErr(), transientErr(), nil}}
	b := &scriptedClient{name: "b"}
	f := llm.NewFailover(fastConfig(), a, b)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a response", resp.Content)
	assert.Equal(t, 3, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestFailoverAdvancesOnPermanentFailure(t *testing.T) {
	a := &scriptedClient{name: "a", outcomes: []error{permanentErr("401 bad key")}}
	b := &scriptedClient{name: "b"}
	f := llm.NewFailover(fastConfig(), a, b)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "b response", resp.Content)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestFailoverTransientBudgetSpentThenFallsOver(t *testing.T) {
	a := &scriptedClient{name: "a", outcomes: []error{transientErr(), transientErr(), transientErr()}}
	b := &scriptedClient{name: "b"}
	f := llm.NewFailover(fastConfig(), a, b)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "b response", resp.Content)
	assert.Equal(t, 3, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestFailoverAllBackendsExhausted(t *testing.T) {
	a := &scriptedClient{name: "a", outcomes: []error{permanentErr("a is broken")}}
	b := &scriptedClient{name: "b", outcomes: []error{permanentErr("b is broken")}}
	f := llm.NewFailover(fastConfig(), a, b)

	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	require.True(t, llmerrors.IsExhausted(err))
	assert.Contains(t, err.Error(), "a is broken")
	assert.Contains(t, err.Error(), "b is broken")
}

func TestFailoverCancellationPropagatesImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &scriptedClient{
		name:     "a",
		outcomes: []error{transientErr()},
		onCall:   func(int) { cancel() },
	}
	b := &scriptedClient{name: "b"}
	f := llm.NewFailover(fastConfig(), a, b)

	_, err := f.Complete(ctx, llm.CompletionRequest{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestFailoverNoBackends(t *testing.T) {
	f := llm.NewFailover(fastConfig())
	_, err := f.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.IsExhausted(err))
}

func TestFailoverStreamFallsOverBeforeFirstChunk(t *testing.T) {
	a := &scriptedClient{name: "a", outcomes: []error{permanentErr("a stream refused")}}
	b := &scriptedClient{name: "b"}
	f := llm.NewFailover(fastConfig(), a, b)

	ch, err := f.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	var chunks []llm.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 2)
	assert.Equal(t, "b chunk", chunks[0].Content)
	assert.True(t, chunks[1].Done)
}

func TestFailoverStreamErrorChunkBeforeFirstContentFailsOver(t *testing.T) {
	a := &errorChunkClient{name: "a"}
	b := &scriptedClient{name: "b"}
	f := llm.NewFailover(fastConfig(), a, b)

	ch, err := f.Stream(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)

	var contents []string
	for chunk := range ch {
		if chunk.Content != "" {
			contents = append(contents, chunk.Content)
		}
	}
	assert.Equal(t, []string{"b chunk"}, contents)
}

func TestFailoverStreamClosesOnCancellation(t *testing.T) {
	inner := make(chan llm.StreamChunk, 1)
	inner <- llm.StreamChunk{Content: "partial"}
	a := &heldStreamClient{name: "a", inner: inner}

	ctx, cancel := context.WithCancel(context.Background())
	f := llm.NewFailover(fastConfig(), a)

	ch, err := f.Stream(ctx, llm.CompletionRequest{})
	require.NoError(t, err)

	chunk := <-ch
	assert.Equal(t, "partial", chunk.Content)

	// The backend stream never closes; cancellation alone must end the
	// forwarded stream instead of leaving it (and its goroutine) hanging.
	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "forwarded stream closed after cancellation")
	case <-time.After(time.Second):
		t.Fatal("forwarded stream still open after cancellation")
	}
}

func TestFailoverStreamAllExhausted(t *testing.T) {
	a := &scriptedClient{name: "a", outcomes: []error{permanentErr("a down")}}
	b := &scriptedClient{name: "b", outcomes: []error{permanentErr("b down")}}
	f := llm.NewFailover(fastConfig(), a, b)

	_, err := f.Stream(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.True(t, llmerrors.IsExhausted(err))
}

func TestFailoverListModelsUnion(t *testing.T) {
	a := &scriptedClient{name: "a", models: []string{"m1", "m2"}}
	b := &scriptedClient{name: "b", models: []string{"m2", "m3"}}
	f := llm.NewFailover(fastConfig(), a, b)

	models, err := f.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, models)
}

func TestFailoverListModelsSkipsFailingBackend(t *testing.T) {
	a := &scriptedClient{name: "a"} // models nil -> list fails
	b := &scriptedClient{name: "b", models: []string{"m3"}}
	f := llm.NewFailover(fastConfig(), a, b)

	models, err := f.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, models)
}

func TestFailoverIsAvailableFirstPositive(t *testing.T) {
	a := &scriptedClient{name: "a", available: false}
	b := &scriptedClient{name: "b", available: true}
	f := llm.NewFailover(fastConfig(), a, b)

	assert.True(t, f.IsAvailable(context.Background()))

	none := llm.NewFailover(fastConfig(), a)
	assert.False(t, none.IsAvailable(context.Background()))
}

// heldStreamClient opens a stream backed by a caller-controlled channel that
// is never closed.
type heldStreamClient struct {
	name  string
	inner chan llm.StreamChunk
}

func (h *heldStreamClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{}, permanentErr("not used")
}

func (h *heldStreamClient) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return h.inner, nil
}

func (h *heldStreamClient) ListModels(_ context.Context) ([]string, error) {
	return nil, errors.New("not used")
}

func (h *heldStreamClient) IsAvailable(_ context.Context) bool { return true }

func (h *heldStreamClient) Name() string { return h.name }

// errorChunkClient opens a stream whose first chunk is a permanent error.
type errorChunkClient struct {
	name string
}

func (e *errorChunkClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{}, permanentErr("not used")
}

func (e *errorChunkClient) Stream(_ context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Error: permanentErr("stream failed at open")}
	close(ch)
	return ch, nil
}

func (e *errorChunkClient) ListModels(_ context.Context) ([]string, error) {
	return nil, errors.New("not used")
}

func (e *errorChunkClient) IsAvailable(_ context.Context) bool { return false }

func (e *errorChunkClient) Name() string { return e.name }
