package openailm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"lexy/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultModel is used when a provider group lists no models.
	DefaultModel = "gpt-4o"
	// DefaultTemperature makes replies deterministic unless overridden.
	DefaultTemperature = 0.0
)

// Client streams completions through the OpenAI Responses API.
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	bufferSize   int
	options      map[string]any
}

// NewClient creates an OpenAI client for one model.
func NewClient(provider, apiKey, model, baseURL string, bufferSize int, options map[string]any) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing API key for model %s", model)
	}
	if model == "" {
		model = DefaultModel
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}

	// retries are owned by llm.FallbackClient
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:     &client,
		provider:   provider,
		model:      model,
		bufferSize: bufferSize,
		options:    options,
	}, nil
}

func (c *Client) Provider() string {
	return c.provider
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "overloaded")
}

// requestOptions maps the unified group options onto raw request fields.
func (c *Client) requestOptions(params *responses.ResponseNewParams) []option.RequestOption {
	temperature := DefaultTemperature
	if t, ok := c.options["temperature"].(float64); ok {
		temperature = t
	}
	opts := []option.RequestOption{option.WithJSONSet("temperature", temperature)}

	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		params.MaxOutputTokens = param.NewOpt(int64(maxTok))
	}

	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}
	return opts
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("openai: empty conversation")
	}

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(messages),
		},
	}
	opts := c.requestOptions(&params)

	chunkCh := make(chan llm.StreamChunk, c.bufferSize)
	startResultCh := make(chan error, 1)
	send := func(chunk llm.StreamChunk) bool {
		select {
		case chunkCh <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params, opts...)
		defer stream.Close()

		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		var (
			finishReason string
			usage        *llm.LLMUsage
			thinking     strings.Builder
			failed       bool
			started      bool
		)

		for stream.Next() {
			if !started {
				started = true
				startResultCh <- nil
			}
			event := stream.Current()
			debugger.WriteString(event.RawJSON())

			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				if !send(llm.NewTextChunk(variant.Delta)) {
					return
				}

			case responses.ResponseReasoningTextDeltaEvent:
				thinking.WriteString(variant.Delta)
				if !send(llm.NewThinkingChunk(variant.Delta)) {
					return
				}

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				thinking.WriteString(variant.Delta)
				if !send(llm.NewThinkingChunk(variant.Delta)) {
					return
				}

			case responses.ResponseOutputItemDoneEvent:
				// Tools are never offered, but a model may still emit a call.
				if variant.Item.Type == "function_call" {
					tc := llm.ToolCall{
						ID:   variant.Item.CallID,
						Name: variant.Item.Name,
						Function: llm.FunctionCall{
							Name:      variant.Item.Name,
							Arguments: variant.Item.Arguments,
						},
					}
					if !send(llm.StreamChunk{ToolCalls: []llm.ToolCall{tc}}) {
						return
					}
				}

			case responses.ResponseCompletedEvent:
				finishReason = llm.StopReasonStop
				if variant.Response.Usage.TotalTokens > 0 {
					usage = &llm.LLMUsage{
						PromptTokens:     int(variant.Response.Usage.InputTokens),
						CompletionTokens: int(variant.Response.Usage.OutputTokens),
						TotalTokens:      int(variant.Response.Usage.TotalTokens),
						ThoughtsTokens:   int(variant.Response.Usage.OutputTokensDetails.ReasoningTokens),
						CachedTokens:     int(variant.Response.Usage.InputTokensDetails.CachedTokens),
						StopReason:       llm.StopReasonStop,
					}
				}

			case responses.ResponseIncompleteEvent:
				finishReason = llm.StopReasonLength

			case responses.ResponseFailedEvent:
				failed = true
				send(llm.NewErrorChunk("API response failed", nil, true))

			case responses.ResponseErrorEvent:
				failed = true
				send(llm.NewErrorChunk(fmt.Sprintf("API error: %s", variant.Message), nil, true))
			}

			if failed {
				return
			}
		}

		if thinking.Len() > 0 {
			slog.DebugContext(ctx, "Captured thinking", "provider", c.provider, "content", thinking.String())
		}

		if err := stream.Err(); err != nil {
			slog.ErrorContext(ctx, "Stream error", "provider", c.provider, "model", c.model, "error", err)
			if !started {
				startResultCh <- err
				return
			}
			send(llm.NewErrorChunk(fmt.Sprintf("Stream error: %v", err), err, true))
			return
		}
		if !started {
			startResultCh <- nil
		}

		if finishReason == "" {
			finishReason = llm.StopReasonStop
		}
		llm.LogUsage(ctx, c.model, usage)
		send(llm.NewFinalChunk(finishReason, usage))
	}()

	// The request is sent before the first event, so HTTP failures surface
	// here where the caller can retry or fall back.
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

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleSystem,
			))
		case llm.RoleUser:
			if !m.HasImages() {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.GetTextContent(),
					responses.EasyInputMessageRoleUser,
				))
				continue
			}

			var parts responses.ResponseInputMessageContentListParam
			for _, block := range m.Content {
				switch block.Type {
				case llm.BlockTypeText:
					parts = append(parts, responses.ResponseInputContentUnionParam{
						OfInputText: &responses.ResponseInputTextParam{Text: block.Text},
					})
				case llm.BlockTypeImage:
					if block.Source == nil {
						continue
					}
					imgURL := block.Source.URL
					if block.Source.Type == "base64" {
						imgURL = fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, base64.StdEncoding.EncodeToString(block.Source.Data))
					}
					parts = append(parts, responses.ResponseInputContentUnionParam{
						OfInputImage: &responses.ResponseInputImageParam{
							Detail:   responses.ResponseInputImageDetailAuto,
							ImageURL: param.NewOpt(imgURL),
						},
					})
				}
			}
			items = append(items, responses.ResponseInputItemParamOfMessage(
				parts,
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			if text := m.GetTextContent(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					text,
					responses.EasyInputMessageRoleAssistant,
				))
			}
		}
	}

	return items
}
