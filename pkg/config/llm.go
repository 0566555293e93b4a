package config

import "time"

// LLM provider names accepted by LLMConfig.Provider.
const (
	LLMProviderOpenAI = "openai"
	LLMProviderMock   = "mock"
)

// LLMConfig contains LLM provider selection and call behavior.
type LLMConfig struct {
	// Provider selects the implementation: "openai" or "mock".
	// "openai" without an API key degrades to mock so the pipeline stays
	// runnable in development.
	Provider string `yaml:"provider"`

	// Model is the provider model identifier (openai only).
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Usually supplied via the
	// OPENAI_API_KEY environment variable rather than YAML.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single LLM call. Exceeding it surfaces as an
	// upstream timeout and degrades the run to partial, not failed.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider: LLMProviderMock,
		Model:    "gpt-4o-mini",
		Timeout:  60 * time.Second,
	}
}
