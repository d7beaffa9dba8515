package ollama

import (
	"log/slog"

	"lexy/pkg/config"
	"lexy/pkg/llm"
)

// OllamaFactory builds one client per configured model.
type OllamaFactory struct{}

func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sys.OllamaDefaultURL
	}

	var clients []llm.LLMClient
	for _, model := range cfg.Models {
		client, err := NewOllamaClient(model, baseURL, sys.InternalChannelBuffer, cfg.Options)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
