package ollama

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"lexy/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OllamaClient streams completions from a local Ollama server.
type OllamaClient struct {
	client       *api.Client
	model        string
	options      map[string]any
	bufferSize   int
	debugEnabled bool
}

func (o *OllamaClient) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

// NewOllamaClient creates a client for model served at baseURL.
func NewOllamaClient(model, baseURL string, bufferSize int, options map[string]any) (*OllamaClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}

	// Generation may take minutes; only the dial is bounded.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	httpClient := &http.Client{Transport: &JSONFixingRoundTripper{Proxied: transport}}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &OllamaClient{
		client:     api.NewClient(u, httpClient),
		model:      model,
		options:    options,
		bufferSize: bufferSize,
	}, nil
}

func (o *OllamaClient) Provider() string {
	return "ollama"
}

func (o *OllamaClient) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: convertMessages(messages),
		Options:  o.options,
		Stream:   &stream,
	}

	chunkCh := make(chan llm.StreamChunk, o.bufferSize)
	startResultCh := make(chan error, 1)
	send := func(chunk llm.StreamChunk) error {
		select {
		case chunkCh <- chunk:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(chunkCh)

		debugger := llm.NewStreamDebugger(ctx, "ollama", o.debugEnabled)
		defer debugger.Close()

		started := false
		thoughts := 0

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			debugger.WriteJSON(resp)
			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.Message.Thinking != "" {
				thoughts++
				if err := send(llm.NewThinkingChunk(resp.Message.Thinking)); err != nil {
					return err
				}
			}
			if resp.Message.Content != "" {
				if err := send(llm.NewTextChunk(resp.Message.Content)); err != nil {
					return err
				}
			}

			if len(resp.Message.ToolCalls) > 0 {
				toolCalls := make([]llm.ToolCall, 0, len(resp.Message.ToolCalls))
				for _, tc := range resp.Message.ToolCalls {
					args, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						args = []byte("{}")
					}
					toolCalls = append(toolCalls, llm.ToolCall{
						ID:       tc.ID,
						Name:     tc.Function.Name,
						Function: llm.FunctionCall{Name: tc.Function.Name, Arguments: string(args)},
					})
				}
				if err := send(llm.StreamChunk{ToolCalls: toolCalls}); err != nil {
					return err
				}
			}

			if resp.Done {
				usage := &llm.LLMUsage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					ThoughtsTokens:   thoughts,
					StopReason:       resp.DoneReason,
				}
				if resp.DoneReason == llm.StopReasonLength {
					slog.WarnContext(ctx, "Response truncated due to length", "provider", "ollama")
				}
				llm.LogUsage(ctx, o.model, usage)
				return send(llm.NewFinalChunk(resp.DoneReason, usage))
			}
			return nil
		})

		if err != nil {
			slog.ErrorContext(ctx, "Stream error", "provider", "ollama", "model", o.model, "error", err)
			if !started {
				startResultCh <- err
				return
			}
			send(llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true))
			return
		}
		if !started {
			startResultCh <- nil
		}
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

func convertMessages(messages []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))

	for _, m := range messages {
		var images []api.ImageData
		for _, block := range m.Content {
			if block.Type == llm.BlockTypeImage && block.Source != nil && len(block.Source.Data) > 0 {
				images = append(images, block.Source.Data)
			}
		}

		msg := api.Message{
			Role:    m.Role,
			Content: m.GetTextContent(),
		}
		if len(images) > 0 {
			msg.Images = images
		}
		out = append(out, msg)
	}

	return out
}

func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "overloaded")
}

// JSONFixingRoundTripper strips illegal escapes such as \$ that some models
// emit inside streamed JSON.
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") || strings.Contains(ct, "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscape = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

// Read only ever shortens the buffer, so rewriting p in place is safe.
func (j *jsonFixingReadCloser) Read(p []byte) (int, error) {
	n, err := j.body.Read(p)
	if n > 0 {
		fixed := illegalEscape.ReplaceAll(p[:n], []byte("$1"))
		if len(fixed) < n {
			n = copy(p, fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
