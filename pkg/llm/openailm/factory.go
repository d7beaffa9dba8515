package openailm

import (
	"log/slog"
	"os"

	"lexy/pkg/config"
	"lexy/pkg/llm"
)

// OpenAIFactory builds one client per configured model.
type OpenAIFactory struct{}

func (f *OpenAIFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	apiKey := ""
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	models := cfg.Models
	if len(models) == 0 {
		models = []string{DefaultModel}
	}

	var clients []llm.LLMClient
	for _, model := range models {
		client, err := NewClient("openai", apiKey, model, cfg.BaseURL, sys.InternalChannelBuffer, cfg.Options)
		if err != nil {
			slog.Error("Failed to create OpenAI client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{})
}
