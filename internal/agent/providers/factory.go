package providers

import (
	"fmt"
	"os"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// Resolve builds the agent.LLMProvider named by settings.Kind, reading its
// credential from the environment variable settings.APIKeyEnv when set.
func Resolve(settings models.ProviderSettings) (agent.LLMProvider, error) {
	switch settings.Kind {
	case "", "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:  apiKey(settings, "ANTHROPIC_API_KEY"),
			BaseURL: settings.BaseURL,
		})
	case "openai-compatible":
		return NewOpenAIProvider(apiKey(settings, "OPENAI_API_KEY")), nil
	case "local-http":
		return NewOllamaProvider(OllamaConfig{
			BaseURL:      settings.BaseURL,
			DefaultModel: settings.Model,
		}), nil
	case "bedrock":
		return NewBedrockProvider(BedrockConfig{
			Region: settings.Region,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind: %q", settings.Kind)
	}
}

func apiKey(settings models.ProviderSettings, defaultEnv string) string {
	env := settings.APIKeyEnv
	if env == "" {
		env = defaultEnv
	}
	return os.Getenv(env)
}
