package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lexy/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// ErrNoClients is returned when no provider group produced a usable client.
var ErrNoClients = errors.New("no LLM clients could be initialized")

// NewFromConfig builds the model client described by the "llm" section of config.json.
// A single client is returned as is; several are wrapped in a FallbackClient.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (LLMClient, error) {
	if len(rawLLM) == 0 {
		return nil, fmt.Errorf("missing 'llm' config")
	}
	if system == nil {
		system = config.DefaultSystemConfig()
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	var allAtomicClients []LLMClient
	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type)
			continue
		}

		for i, key := range group.APIKeys {
			group.APIKeys[i] = config.ExpandSecret(key)
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create clients", "type", group.Type, "error", err)
			continue
		}

		allAtomicClients = append(allAtomicClients, clients...)
	}

	if len(allAtomicClients) == 0 {
		return nil, ErrNoClients
	}

	slog.Info("LLM clients initialized", "count", len(allAtomicClients))

	var client LLMClient
	if len(allAtomicClients) == 1 {
		client = allAtomicClients[0]
	} else {
		client = &FallbackClient{
			Clients:    allAtomicClients,
			MaxRetries: system.MaxRetries,
			RetryDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
		}
	}
	client.SetDebug(system.DebugChunks)
	return client, nil
}
