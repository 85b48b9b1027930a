package providers

import (
	"fmt"

	"github.com/nextlevelbuilder/gocrawl/internal/agent"
	"github.com/nextlevelbuilder/gocrawl/internal/config"
)

// New creates a provider adapter by name from config.
func New(name string, cfg config.ProvidersConfig) (agent.Adapter, error) {
	switch name {
	case "anthropic":
		return NewAnthropicAdapter(cfg.AnthropicAPIKey, WithAnthropicModel(cfg.AnthropicModel)), nil
	case "openai":
		return NewOpenAIAdapter(cfg.OpenAIAPIKey,
			WithOpenAIModel(cfg.OpenAIModel),
			WithOpenAIBaseURL(cfg.OpenAIBaseURL)), nil
	case "ollama":
		return NewOllamaAdapter(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (expected anthropic, openai, or ollama)", name)
	}
}
