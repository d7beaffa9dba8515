package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"lexy/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("503 service unavailable")

// scriptedClient fails with errs in order, then streams chunks.
type scriptedClient struct {
	name   string
	errs   []error
	chunks []StreamChunk
	calls  int
	debug  bool
}

func (s *scriptedClient) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	ch := make(chan StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (s *scriptedClient) IsTransientError(err error) bool { return errors.Is(err, errTransient) }
func (s *scriptedClient) Provider() string                { return s.name }
func (s *scriptedClient) SetDebug(enabled bool)           { s.debug = enabled }

func TestFallbackClient(t *testing.T) {
	t.Run("retries transient errors on the same client", func(t *testing.T) {
		first := &scriptedClient{name: "a", errs: []error{errTransient}, chunks: []StreamChunk{NewTextChunk("hi"), NewFinalChunk(StopReasonStop, nil)}}
		fb := &FallbackClient{Clients: []LLMClient{first}, MaxRetries: 3, RetryDelay: time.Millisecond}

		ch, err := fb.StreamChat(context.Background(), []Message{NewUserMessage("hello")})
		require.NoError(t, err)

		msg, err := Collect(context.Background(), ch, nil)
		require.NoError(t, err)
		assert.Equal(t, "hi", msg.GetTextContent())
		assert.Equal(t, 2, first.calls)
	})

	t.Run("falls through on permanent errors", func(t *testing.T) {
		first := &scriptedClient{name: "a", errs: []error{errors.New("401 unauthorized")}}
		second := &scriptedClient{name: "b", chunks: []StreamChunk{NewTextChunk("ok"), NewFinalChunk(StopReasonStop, nil)}}
		fb := &FallbackClient{Clients: []LLMClient{first, second}, MaxRetries: 3}

		_, err := fb.StreamChat(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 1, second.calls)
	})

	t.Run("wraps the last error when every client fails", func(t *testing.T) {
		fb := &FallbackClient{
			Clients:    []LLMClient{&scriptedClient{name: "a", errs: []error{errTransient, errTransient}}},
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
		}

		_, err := fb.StreamChat(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, errTransient)
		assert.False(t, fb.IsTransientError(err))
	})

	t.Run("propagates debug flag", func(t *testing.T) {
		a, b := &scriptedClient{name: "a"}, &scriptedClient{name: "b"}
		fb := &FallbackClient{Clients: []LLMClient{a, b}}
		fb.SetDebug(true)

		assert.True(t, a.debug)
		assert.True(t, b.debug)
		assert.Equal(t, "a", fb.Provider())
	})
}

func TestCollect(t *testing.T) {
	feed := func(chunks ...StreamChunk) <-chan StreamChunk {
		ch := make(chan StreamChunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch
	}

	t.Run("merges deltas and records usage", func(t *testing.T) {
		var seen []string
		msg, err := Collect(context.Background(), feed(
			NewThinkingChunk("let me "),
			NewThinkingChunk("think"),
			NewTextChunk("Hello, "),
			NewTextChunk("world"),
			NewFinalChunk(StopReasonStop, &LLMUsage{TotalTokens: 7}),
		), func(b ContentBlock) { seen = append(seen, b.Text) })

		require.NoError(t, err)
		assert.Equal(t, RoleAssistant, msg.Role)
		require.Len(t, msg.Content, 2)
		assert.Equal(t, "let me think", msg.GetThinkingContent())
		assert.Equal(t, "Hello, world", msg.GetTextContent())
		require.NotNil(t, msg.Usage)
		assert.Equal(t, 7, msg.Usage.TotalTokens)
		assert.Equal(t, StopReasonStop, msg.Usage.StopReason)
		assert.Len(t, seen, 4)
	})

	t.Run("aborts on a fatal chunk", func(t *testing.T) {
		boom := errors.New("boom")
		msg, err := Collect(context.Background(), feed(
			NewTextChunk("partial"),
			NewErrorChunk("stream broke", boom, true),
			NewTextChunk("never"),
		), nil)

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "partial", msg.GetTextContent())
	})

	t.Run("keeps non-fatal errors as blocks", func(t *testing.T) {
		msg, err := Collect(context.Background(), feed(
			NewErrorChunk("truncated", nil, false),
			NewTextChunk("text"),
		), nil)

		require.NoError(t, err)
		require.Len(t, msg.Content, 2)
		assert.Equal(t, BlockTypeError, msg.Content[0].Type)
	})

	t.Run("fatal chunk without error gets a StreamError", func(t *testing.T) {
		_, err := Collect(context.Background(), feed(NewErrorChunk("API error", nil, true)), nil)

		var streamErr *StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "API error", streamErr.Message)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Collect(ctx, make(chan StreamChunk), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestChatHistory(t *testing.T) {
	h := NewChatHistory(NewUserMessage("one"))
	h.Add(NewAssistantMessage("two"), NewUserMessage("three"))
	require.Equal(t, 3, h.Len())

	msgs := h.GetMessages()
	msgs[0].Role = RoleSystem
	assert.Equal(t, RoleUser, h.GetMessages()[0].Role, "GetMessages must return a copy")

	byLen := func(s string) int { return len(s) }
	trimmed := h.TrimToTokens(8, byLen)
	require.Len(t, trimmed, 2)
	assert.Equal(t, "two", trimmed[0].GetTextContent())
	assert.Equal(t, 3, h.Len())

	h.Clear()
	assert.Zero(t, h.Len())
}

func TestTrimToTokenBudget(t *testing.T) {
	byLen := func(s string) int { return len(s) }
	msgs := []Message{NewUserMessage("aaaa"), NewAssistantMessage("bbbb"), NewUserMessage("cc")}

	tests := []struct {
		name   string
		budget int
		want   int
	}{
		{"unlimited", 0, 3},
		{"everything fits", 10, 3},
		{"drops oldest", 6, 2},
		{"only last", 3, 1},
		{"nothing fits", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimToTokenBudget(msgs, tt.budget, byLen)
			require.Len(t, got, tt.want)
			if tt.want > 0 {
				assert.Equal(t, "cc", got[len(got)-1].GetTextContent())
			}
		})
	}
}

func TestImageSourceJSON(t *testing.T) {
	block := NewImageBlock([]byte{0x89, 'P', 'N', 'G'}, "image/png")

	data, err := json.Marshal(block)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":"iVBORw=="`)

	var decoded ContentBlock
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Source)
	assert.Equal(t, block.Source.Data, decoded.Source.Data)
	assert.Equal(t, "image/png", decoded.Source.MediaType)
}

type scriptedFactory struct {
	group ProviderGroupConfig
	n     int
}

func (f *scriptedFactory) Create(group ProviderGroupConfig, _ *config.SystemConfig) ([]LLMClient, error) {
	f.group = group
	clients := make([]LLMClient, f.n)
	for i := range clients {
		clients[i] = &scriptedClient{name: group.Type}
	}
	return clients, nil
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("SCRIPTED_KEY", "secret")

	single := &scriptedFactory{n: 1}
	RegisterProvider("scripted-single", single)
	RegisterProvider("scripted-multi", &scriptedFactory{n: 2})

	t.Run("single client is returned unwrapped", func(t *testing.T) {
		client, err := NewFromConfig([]byte(`[{"type":"scripted-single","api_keys":["${SCRIPTED_KEY}"],"models":["m"]}]`), nil)
		require.NoError(t, err)
		assert.IsType(t, &scriptedClient{}, client)
		assert.Equal(t, []string{"secret"}, single.group.APIKeys)
	})

	t.Run("several clients are wrapped", func(t *testing.T) {
		client, err := NewFromConfig([]byte(`[{"type":"scripted-multi","models":["m"]}]`), config.DefaultSystemConfig())
		require.NoError(t, err)
		fb, ok := client.(*FallbackClient)
		require.True(t, ok)
		assert.Len(t, fb.Clients, 2)
		assert.Equal(t, 3, fb.MaxRetries)
	})

	t.Run("unknown providers are skipped", func(t *testing.T) {
		_, err := NewFromConfig([]byte(`[{"type":"nope","models":["m"]}]`), nil)
		assert.ErrorIs(t, err, ErrNoClients)
	})

	t.Run("malformed config", func(t *testing.T) {
		_, err := NewFromConfig([]byte(`{`), nil)
		assert.Error(t, err)
	})
}
