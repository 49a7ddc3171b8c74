package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentd/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: claude
    kind: anthropic
    model: claude-sonnet-4
    api_key_env: TEST_ANTHROPIC_KEY
  - name: local
    kind: ollama
    model: llama3.1
    base_url: http://localhost:11434
retry:
  max_attempts: 5
  initial_backoff: 2s
agent:
  max_iterations: 4
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "claude", cfg.Providers[0].Name)
	assert.Equal(t, config.ProviderOllama, cfg.Providers[1].Kind)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialBackoff.Std())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff.Std(), "default applied")

	assert.Equal(t, 4, cfg.Agent.MaxIterations)
	assert.Equal(t, config.DefaultMaxTokens, cfg.Agent.MaxTokens)
	assert.Equal(t, config.DefaultSubAgentConcurrency, cfg.SubAgents.MaxConcurrent)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "providers: [unclosed")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "no providers",
			mutate:  func(c *config.Config) { c.Providers = nil },
			wantErr: "at least one provider",
		},
		{
			name: "duplicate names",
			mutate: func(c *config.Config) {
				c.Providers = append(c.Providers, c.Providers[0])
			},
			wantErr: "duplicate name",
		},
		{
			name: "unknown kind",
			mutate: func(c *config.Config) {
				c.Providers[0].Kind = "carrier-pigeon"
			},
			wantErr: "unknown kind",
		},
		{
			name: "missing model",
			mutate: func(c *config.Config) {
				c.Providers[0].Model = ""
			},
			wantErr: "model cannot be empty",
		},
		{
			name: "ollama without base_url",
			mutate: func(c *config.Config) {
				c.Providers[0].Kind = config.ProviderOllama
				c.Providers[0].BaseURL = ""
			},
			wantErr: "base_url",
		},
		{
			name: "temperature out of range",
			mutate: func(c *config.Config) {
				c.Agent.Temperature = 3.5
			},
			wantErr: "temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Providers = []config.Provider{{
				Name:  "primary",
				Kind:  config.ProviderAnthropic,
				Model: "claude-sonnet-4",
			}}
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProviderAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-test-123")
	p := config.Provider{APIKeyEnv: "TEST_PROVIDER_KEY"}
	assert.Equal(t, "sk-test-123", p.APIKey())

	empty := config.Provider{}
	assert.Empty(t, empty.APIKey())
}
