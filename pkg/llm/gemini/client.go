package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lexy/pkg/llm"

	"google.golang.org/genai"
)

// GeminiClient streams completions from the Gemini API.
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	temperature  *float32
	bufferSize   int
	debugEnabled bool
}

func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a client bound to one model and API key.
func NewGeminiClient(ctx context.Context, apiKey, model string, useThought bool, bufferSize int, options map[string]any) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}

	g := &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
		bufferSize: bufferSize,
	}
	if t, ok := options["temperature"].(float64); ok {
		g.temperature = genai.Ptr(float32(t))
	}
	return g, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

func (g *GeminiClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	contents, systemInstruction := convertMessages(messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("gemini: no user content to send")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Temperature:       g.temperature,
	}
	if g.useThought {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	chunkCh := make(chan llm.StreamChunk, g.bufferSize)
	startResultCh := make(chan error, 1)
	send := func(chunk llm.StreamChunk) bool {
		select {
		case chunkCh <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	slog.DebugContext(ctx, "Streaming", "provider", "gemini", "model", g.model)

	go func() {
		defer close(chunkCh)

		debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
		defer debugger.Close()

		started := false
		var lastUsage *llm.LLMUsage

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if resp != nil {
				debugger.WriteJSON(resp)
			}
			if err != nil && resp == nil {
				slog.ErrorContext(ctx, "Stream error", "provider", "gemini", "error", err)
				if !started {
					startResultCh <- err
				} else {
					send(llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true))
				}
				return
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			if u := resp.UsageMetadata; u != nil {
				lastUsage = &llm.LLMUsage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" {
					if lastUsage == nil {
						lastUsage = &llm.LLMUsage{}
					}
					lastUsage.StopReason = normalizeStopReason(candidate.FinishReason)
				}
				if candidate.Content == nil {
					continue
				}

				var blocks []llm.ContentBlock
				for _, part := range candidate.Content.Parts {
					if part.Text == "" {
						continue
					}
					if part.Thought {
						blocks = append(blocks, llm.NewThinkingBlock(part.Text))
					} else {
						blocks = append(blocks, llm.NewTextBlock(part.Text))
					}
				}
				if len(blocks) > 0 && !send(llm.StreamChunk{ContentBlocks: blocks}) {
					return
				}
			}
		}

		if !started {
			startResultCh <- nil
		}

		reason := llm.StopReasonStop
		if lastUsage != nil && lastUsage.StopReason != "" {
			reason = lastUsage.StopReason
		}
		llm.LogUsage(ctx, g.model, lastUsage)
		send(llm.NewFinalChunk(reason, lastUsage))
	}()

	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func normalizeStopReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop:
		return llm.StopReasonStop
	case genai.FinishReasonMaxTokens:
		return llm.StopReasonLength
	default:
		return strings.ToLower(string(reason))
	}
}

// convertMessages splits the system prompt out as SystemInstruction.
func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if text := msg.GetTextContent(); text != "" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: text}}}
			}
			continue
		}

		role := genai.RoleUser
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			case llm.BlockTypeImage:
				if block.Source != nil && len(block.Source.Data) > 0 {
					parts = append(parts, &genai.Part{
						InlineData: &genai.Blob{
							MIMEType: block.Source.MediaType,
							Data:     block.Source.Data,
						},
					})
				}
			}
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	return contents, systemInstruction
}

func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "internal error")
}
