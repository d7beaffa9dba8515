package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMUsage is the provider-neutral token accounting for one response.
type LLMUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage writes the usage statistics of one response.
func LogUsage(ctx context.Context, model string, usage *LLMUsage) {
	if usage == nil {
		return
	}
	slog.InfoContext(ctx, "Model usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"cached", usage.CachedTokens,
		"stop_reason", usage.StopReason,
	)
}

// LLMClient is the common interface of every hosted or local model provider.
type LLMClient interface {
	// StreamChat starts a streamed completion for the conversation. The
	// returned channel is closed once the final chunk has been delivered.
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// IsTransientError reports whether err is worth retrying (503, rate limit, ...).
	IsTransientError(err error) bool

	// Provider returns the provider name, e.g. "openai".
	Provider() string

	// SetDebug toggles raw chunk dumps.
	SetDebug(enabled bool)
}

// FallbackClient tries several clients in order, retrying transient failures.
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "Previous provider failed, trying fallback", "index", i+1, "provider", client.Provider())
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.InfoContext(ctx, "Retrying provider", "index", i+1, "attempt", fmt.Sprintf("%d/%d", retry, maxRetries))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages)
			if err == nil {
				return ch, nil
			}

			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.WarnContext(ctx, "Provider failed with transient error", "index", i+1, "error", err)
				continue
			}

			slog.ErrorContext(ctx, "Provider failed", "index", i+1, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed: %w", lastErr)
}

// IsTransientError always reports false: a FallbackClient error means every
// child already exhausted its retries.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

func (f *FallbackClient) Provider() string {
	if len(f.Clients) > 0 {
		return f.Clients[0].Provider()
	}
	return "fallback"
}

func (f *FallbackClient) SetDebug(enabled bool) {
	for _, c := range f.Clients {
		c.SetDebug(enabled)
	}
}
