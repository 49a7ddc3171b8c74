package llm

import (
	"context"
	"fmt"
	"time"

	"agentd/pkg/llm/llmerrors"
	"agentd/pkg/logx"
)

// FailoverConfig controls per-backend retries in the failover client.
type FailoverConfig struct {
	MaxAttempts    int           // tries per backend before advancing
	InitialBackoff time.Duration // backoff before the first retry
	MaxBackoff     time.Duration // cap on the doubled backoff
}

// DefaultFailoverConfig provides the standard retry budget.
var DefaultFailoverConfig = FailoverConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
}

func (c *FailoverConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultFailoverConfig.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultFailoverConfig.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultFailoverConfig.MaxBackoff
	}
}

// FailoverClient presents an ordered set of backends as a single Client.
//
// For each backend in priority order it attempts up to MaxAttempts tries.
// Transient failures (rate limit, timeout, 5xx, network) back off
// exponentially and retry the same backend; permanent failures advance to the
// next backend immediately. Cancellation propagates at once with no retry or
// fallback. When every path is spent, Complete fails with an
// *llmerrors.ExhaustedError carrying every observed cause.
type FailoverClient struct {
	clients []Client
	cfg     FailoverConfig
	logger  *logx.Logger
}

var _ Client = (*FailoverClient)(nil)

// NewFailover creates a failover client over the given backends, tried in the
// order given.
func NewFailover(cfg FailoverConfig, clients ...Client) *FailoverClient {
	cfg.applyDefaults()
	return &FailoverClient{
		clients: clients,
		cfg:     cfg,
		logger:  logx.NewLogger("failover"),
	}
}

// backoffDelay returns the exponential delay before retry attempt n (n >= 2).
func (f *FailoverClient) backoffDelay(attempt int) time.Duration {
	delay := f.cfg.InitialBackoff
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= f.cfg.MaxBackoff {
			return f.cfg.MaxBackoff
		}
	}
	if delay > f.cfg.MaxBackoff {
		delay = f.cfg.MaxBackoff
	}
	return delay
}

// sleep waits for the backoff delay or until ctx is cancelled.
func (f *FailoverClient) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Complete implements Client.
func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if len(f.clients) == 0 {
		return CompletionResponse{}, &llmerrors.ExhaustedError{}
	}

	var causes []error
	for _, client := range f.clients {
		for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
			if attempt > 1 {
				delay := f.backoffDelay(attempt)
				f.logger.Info("retrying backend %s in %s (attempt %d/%d)",
					client.Name(), delay, attempt, f.cfg.MaxAttempts)
				if err := f.sleep(ctx, delay); err != nil {
					return CompletionResponse{}, err
				}
			}

			resp, err := client.Complete(ctx, req)
			if err == nil {
				return resp, nil
			}
			if ctx.Err() != nil {
				// Caller cancellation: propagate, never retry or fall over.
				return CompletionResponse{}, ctx.Err()
			}

			causes = append(causes, fmt.Errorf("%s attempt %d: %w", client.Name(), attempt, err))

			if !llmerrors.IsTransient(err) {
				f.logger.Warn("backend %s failed permanently (%s), advancing to next backend",
					client.Name(), llmerrors.TypeOf(err))
				break
			}
			f.logger.Warn("backend %s failed transiently (%s) on attempt %d/%d: %v",
				client.Name(), llmerrors.TypeOf(err), attempt, f.cfg.MaxAttempts, err)
		}
	}

	return CompletionResponse{}, &llmerrors.ExhaustedError{Causes: causes}
}

// Stream implements Client. Retry and fallback apply only until the first
// chunk has been delivered to the caller; a failure after partial streaming
// abandons the stream rather than restarting it on another backend.
func (f *FailoverClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	if len(f.clients) == 0 {
		return nil, &llmerrors.ExhaustedError{}
	}

	var causes []error
	for _, client := range f.clients {
		for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
			if attempt > 1 {
				if err := f.sleep(ctx, f.backoffDelay(attempt)); err != nil {
					return nil, err
				}
			}

			first, rest, err := f.openStream(ctx, client, req)
			if err == nil {
				out := make(chan StreamChunk)
				go forwardStream(ctx, out, first, rest)
				return out, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			causes = append(causes, fmt.Errorf("%s attempt %d: %w", client.Name(), attempt, err))
			if !llmerrors.IsTransient(err) {
				break
			}
		}
	}

	return nil, &llmerrors.ExhaustedError{Causes: causes}
}

// forwardStream relays the opened stream to out, closing out when the inner
// stream ends or ctx is cancelled. Cancellation must release the goroutine
// even when the caller has stopped draining out.
func forwardStream(ctx context.Context, out chan<- StreamChunk, first StreamChunk, rest <-chan StreamChunk) {
	defer close(out)
	if !sendChunk(ctx, out, first) || first.Done || first.Error != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-rest:
			if !ok {
				return
			}
			if !sendChunk(ctx, out, chunk) {
				return
			}
		}
	}
}

func sendChunk(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// openStream starts a stream and waits for its first chunk. A failure before
// the first chunk is reported as an error so the caller can retry or fall
// over; afterwards the stream belongs to the caller.
func (f *FailoverClient) openStream(ctx context.Context, client Client, req CompletionRequest) (StreamChunk, <-chan StreamChunk, error) {
	ch, err := client.Stream(ctx, req)
	if err != nil {
		return StreamChunk{}, nil, err
	}
	select {
	case <-ctx.Done():
		return StreamChunk{}, nil, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return StreamChunk{}, nil, llmerrors.New(llmerrors.ErrorTypeServer, "stream closed before first chunk")
		}
		if chunk.Error != nil {
			return StreamChunk{}, nil, chunk.Error
		}
		return chunk, ch, nil
	}
}

// ListModels implements Client. It returns the union of models reported by
// the configured backends, in priority order; per-backend listing failures
// are skipped unless every backend fails.
func (f *FailoverClient) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	var causes []error
	seen := make(map[string]struct{})
	for _, client := range f.clients {
		names, err := client.ListModels(ctx)
		if err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", client.Name(), err))
			continue
		}
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			models = append(models, name)
		}
	}
	if len(models) == 0 && len(causes) > 0 {
		return nil, &llmerrors.ExhaustedError{Causes: causes}
	}
	return models, nil
}

// IsAvailable implements Client. It probes backends in order and reports true
// on the first positive answer. The probe is informational only: Complete
// always follows full priority and fallback order regardless of this result.
func (f *FailoverClient) IsAvailable(ctx context.Context) bool {
	for _, client := range f.clients {
		if client.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// Name implements Client.
func (f *FailoverClient) Name() string {
	return "failover"
}
