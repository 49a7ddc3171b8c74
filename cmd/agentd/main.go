// Command agentd runs one conversation against the configured backends and
// prints the result. It wires configuration, backend adapters, the failover
// layer, the tool registry, and the sub-agent supervisor together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"agentd/pkg/agent"
	"agentd/pkg/bus"
	"agentd/pkg/config"
	"agentd/pkg/llm"
	"agentd/pkg/llm/llmimpl/anthropic"
	"agentd/pkg/llm/llmimpl/google"
	"agentd/pkg/llm/llmimpl/ollama"
	"agentd/pkg/llm/llmimpl/openai"
	"agentd/pkg/llm/middleware/metrics"
	"agentd/pkg/logx"
	"agentd/pkg/runstore"
	"agentd/pkg/subagent"
	"agentd/pkg/tools"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	prompt := flag.String("prompt", "", "user prompt to run (required)")
	systemPrompt := flag.String("system", "", "optional system prompt")
	flag.Parse()

	logger := logx.NewLogger("main")

	if *prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: agentd -prompt <text> [-system <text>] [-config <path>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *systemPrompt, *prompt); err != nil {
		logger.Error("run: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, systemPrompt, prompt string) error {
	logger := logx.NewLogger("main")

	clients := make([]llm.Client, 0, len(cfg.Providers))
	for i := range cfg.Providers {
		client, err := buildClient(&cfg.Providers[i])
		if err != nil {
			return err
		}
		clients = append(clients, client)
	}

	failover := llm.NewFailover(llm.FailoverConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff.Std(),
		MaxBackoff:     cfg.Retry.MaxBackoff.Std(),
	}, clients...)

	recorder := metrics.NewPrometheusRecorder()
	client := llm.Chain(failover, metrics.Middleware(recorder, nil, logx.NewLogger("metrics")))

	var store *runstore.Store
	if cfg.RunStore.Path != "" {
		var err error
		store, err = runstore.Open(cfg.RunStore.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	events := bus.New()
	registry := tools.NewRegistry()

	supervisor := subagent.New(client, registry, events, store, subagent.Config{
		MaxConcurrent: cfg.SubAgents.MaxConcurrent,
		Model:         cfg.Providers[0].Model,
		MaxIterations: cfg.SubAgents.MaxIterations,
		SystemPrompt:  cfg.SubAgents.SystemPrompt,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
	})
	registry.MustRegister(subagent.NewSpawnTool(supervisor))

	runner := agent.NewRunner(client, registry, events, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
	})

	messages := make([]llm.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llm.NewSystemMessage(systemPrompt))
	}
	messages = append(messages, llm.NewUserMessage(prompt))

	result, err := runner.Run(ctx, agent.Request{
		Model:    cfg.Providers[0].Model,
		Messages: messages,
	})
	if err != nil {
		return err
	}

	logger.Info("run finished: %d tool executions", len(result.Executions))
	fmt.Println(result.Content)
	return nil
}

func buildClient(p *config.Provider) (llm.Client, error) {
	switch p.Kind {
	case config.ProviderAnthropic:
		return anthropic.New(p.Name, p.APIKey(), p.Model, p.BaseURL), nil
	case config.ProviderOpenAI:
		return openai.New(p.Name, p.APIKey(), p.Model, p.BaseURL), nil
	case config.ProviderGoogle:
		return google.New(p.Name, p.APIKey(), p.Model), nil
	case config.ProviderOllama:
		return ollama.New(p.Name, p.BaseURL, p.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}
