// Package config provides YAML configuration loading and validation for the agent runtime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds supported by the backend adapters.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Default budgets and limits.
const (
	DefaultMaxIterations       = 10
	DefaultMaxTokens           = 4096
	DefaultTemperature         = 0.3
	DefaultRetryAttempts       = 3
	DefaultSubAgentConcurrency = 4
	DefaultSubAgentIterations  = 8
)

// Provider describes one backend instance. Providers are tried in the order
// they appear in the configuration file.
type Provider struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // anthropic | openai | google | ollama
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// APIKey resolves the provider's API key from the configured environment variable.
func (p *Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Duration is a time.Duration that unmarshals from YAML strings like "1s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Retry controls per-backend retry behavior in the failover layer.
type Retry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
}

// Agent controls the conversation loop.
type Agent struct {
	MaxIterations int     `yaml:"max_iterations"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float32 `yaml:"temperature"`
}

// SubAgents controls the sub-agent supervisor. An empty SystemPrompt falls
// back to the supervisor's built-in default.
type SubAgents struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	MaxIterations int    `yaml:"max_iterations"`
	SystemPrompt  string `yaml:"system_prompt,omitempty"`
}

// RunStore controls the completed-run archive.
type RunStore struct {
	Path string `yaml:"path,omitempty"` // empty disables the archive
}

// Config is the root configuration document.
type Config struct {
	Providers []Provider `yaml:"providers"`
	Retry     Retry      `yaml:"retry"`
	Agent     Agent      `yaml:"agent"`
	SubAgents SubAgents  `yaml:"sub_agents"`
	RunStore  RunStore   `yaml:"run_store"`
}

// Default returns a configuration with all defaults applied and no providers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = Duration(time.Second)
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = Duration(30 * time.Second)
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = DefaultMaxTokens
	}
	if c.Agent.Temperature <= 0 {
		c.Agent.Temperature = DefaultTemperature
	}
	if c.SubAgents.MaxConcurrent <= 0 {
		c.SubAgents.MaxConcurrent = DefaultSubAgentConcurrency
	}
	if c.SubAgents.MaxIterations <= 0 {
		c.SubAgents.MaxIterations = DefaultSubAgentIterations
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %d: name cannot be empty", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Kind {
		case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.Name, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %q: model cannot be empty", p.Name)
		}
		if p.Kind == ProviderOllama && p.BaseURL == "" {
			return fmt.Errorf("provider %q: ollama requires base_url", p.Name)
		}
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2.0 {
		return fmt.Errorf("agent temperature must be between 0.0 and 2.0")
	}
	return nil
}

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
