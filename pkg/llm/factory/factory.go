package factory

import (
	"fmt"
	"strings"

	"salesbot-wa-be/pkg/llm"
	"salesbot-wa-be/pkg/llm/ollama"
	"salesbot-wa-be/pkg/llm/openai"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// NewLLMProvider builds the reply model backend named by providerType.
func NewLLMProvider(providerType, modelName, baseURL, apiKey string) (llm.LLMProvider, error) {
	switch strings.ToLower(strings.TrimSpace(providerType)) {
	case ProviderOllama, "":
		return ollama.NewOllamaProvider(baseURL, modelName), nil
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("openai provider requires LLM_API_KEY")
		}
		return openai.NewProvider(apiKey, baseURL, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", providerType)
	}
}
