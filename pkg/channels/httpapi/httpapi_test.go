package httpapi

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lexy/pkg/api"
	"lexy/pkg/gateway"
	"lexy/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestChannel wires the channel to a gateway whose handler calls fn.
func newTestChannel(t *testing.T, fn func(gw *gateway.GatewayManager, msg *api.UnifiedMessage)) *HTTPChannel {
	t.Helper()
	ch := NewHTTPChannel(HTTPConfig{})
	gw := gateway.NewGatewayManager()
	gw.Register(ch)
	gw.SetMessageHandler(func(msg *api.UnifiedMessage) { fn(gw, msg) })
	ch.bind(gw)
	return ch
}

func streamText(gw *gateway.GatewayManager, msg *api.UnifiedMessage, parts ...string) {
	blocks := make(chan llm.ContentBlock, len(parts))
	for _, p := range parts {
		blocks <- llm.NewTextBlock(p)
	}
	close(blocks)
	_ = gw.StreamReply(msg.Session, blocks)
}

func post(t *testing.T, ch *HTTPChannel, path, body string, headers ...string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := ch.App().Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func TestInvoke(t *testing.T) {
	var got *api.UnifiedMessage
	ch := newTestChannel(t, func(gw *gateway.GatewayManager, msg *api.UnifiedMessage) {
		got = msg
		streamText(gw, msg, "Hello", " there")
	})

	resp := post(t, ch, "/chat/invoke", `{"input":{"input":"hi","chat_history":[["human","before"],["ai","noted"]]}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out InvokeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Hello there", out.Output.Result)
	assert.NotEmpty(t, out.Metadata.RunID)

	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Content)
	assert.True(t, got.Stateless())
	require.Len(t, got.History, 2)
	assert.Equal(t, llm.RoleUser, got.History[0].Role)
	assert.Equal(t, llm.RoleAssistant, got.History[1].Role)
	assert.Equal(t, out.Metadata.RunID, got.RunID)
}

func TestInvokeSessionHeader(t *testing.T) {
	var got *api.UnifiedMessage
	ch := newTestChannel(t, func(gw *gateway.GatewayManager, msg *api.UnifiedMessage) {
		got = msg
		streamText(gw, msg, "ok")
	})

	resp := post(t, ch, "/chat/invoke", `{"input":{"input":"hi"}}`, SessionHeader, "conv-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, got)
	assert.False(t, got.Stateless())
	assert.Equal(t, "http:conv-1", got.Session.Key())

	resp = post(t, ch, "/chat/invoke", `{"input":{"input":"hi"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, got.Stateless())
	assert.Empty(t, got.History)
}

func TestInvokeNoticesAndErrors(t *testing.T) {
	t.Run("notices", func(t *testing.T) {
		ch := newTestChannel(t, func(gw *gateway.GatewayManager, msg *api.UnifiedMessage) {
			streamText(gw, msg, "done")
			_ = gw.SendReply(msg.Session, "Saved files: a.md")
		})
		resp := post(t, ch, "/chat/invoke", `{"input":{"input":"make a file"}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out InvokeResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, []string{"Saved files: a.md"}, out.Metadata.Notices)
	})

	t.Run("run error", func(t *testing.T) {
		ch := newTestChannel(t, func(gw *gateway.GatewayManager, msg *api.UnifiedMessage) {
			_ = gw.SendError(msg.Session, errors.New("model exploded"))
		})
		resp := post(t, ch, "/chat/invoke", `{"input":{"input":"hi"}}`)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var out ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "model exploded", out.Message)
	})
}

func TestInvokeBadRequests(t *testing.T) {
	ch := newTestChannel(t, func(*gateway.GatewayManager, *api.UnifiedMessage) {
		t.Error("handler must not run")
	})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"empty input", `{"input":{"input":"  "}}`},
		{"bad history role", `{"input":{"input":"hi","chat_history":[["robot","x"]]}}`},
		{"short history pair", `{"input":{"input":"hi","chat_history":[["human"]]}}`},
		{"bad base64", `{"input":{"input":"hi","file":{"base64":"%%%","extension":"png"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ch, "/chat/invoke", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestInvokeFileUpload(t *testing.T) {
	var got *api.UnifiedMessage
	ch := newTestChannel(t, func(gw *gateway.GatewayManager, msg *api.UnifiedMessage) {
		got = msg
		streamText(gw, msg, "a picture")
	})

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	resp := post(t, ch, "/chat/invoke", `{"input":{"input":"what is it","file":{"base64":"`+dataURL+`","extension":"png"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, got.Files, 1)
	f := got.Files[0]
	assert.Equal(t, "upload.png", f.Filename)
	assert.Equal(t, "png", f.Extension)
	assert.Equal(t, "image/png", f.MimeType)
	assert.Equal(t, []byte("png-bytes"), f.Data)
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func names(events []sseEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.name
	}
	return out
}

func TestStream(t *testing.T) {
	ch := newTestChannel(t, func(gw *gateway.GatewayManager, msg *api.UnifiedMessage) {
		streamText(gw, msg, "Hel", "lo")
	})

	resp := post(t, ch, "/chat/stream", `{"input":{"input":"hi"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	events := readEvents(t, bytes.NewReader(body))

	assert.Equal(t, []string{"metadata", "chunk", "chunk", "data", "end"}, names(events))
	assert.Contains(t, events[0].data, `"run_id"`)
	assert.JSONEq(t, `{"type":"text","content":"Hel"}`, events[1].data)
	assert.JSONEq(t, `{"invoke_model":{"result":"Hello"}}`, events[3].data)
}

func TestStreamError(t *testing.T) {
	ch := newTestChannel(t, func(gw *gateway.GatewayManager, msg *api.UnifiedMessage) {
		_ = gw.SendError(msg.Session, errors.New("nope"))
	})

	resp := post(t, ch, "/chat/stream", `{"input":{"input":"hi"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, resp.Body)
	assert.Equal(t, []string{"metadata", "error", "end"}, names(events))
	assert.JSONEq(t, `{"message":"nope"}`, events[1].data)
}

func TestHealth(t *testing.T) {
	ch := NewHTTPChannel(HTTPConfig{})
	resp, err := ch.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotStarted(t *testing.T) {
	ch := NewHTTPChannel(HTTPConfig{Path: "api/chat/"})
	resp := post(t, ch, "/api/chat/invoke", `{"input":{"input":"hi"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSendWithoutPendingRequest(t *testing.T) {
	ch := NewHTTPChannel(HTTPConfig{})
	err := ch.Send(api.SessionContext{ChannelID: "http", UserID: "missing"}, "x")
	assert.Error(t, err)
}
