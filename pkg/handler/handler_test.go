package handler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"lexy/pkg/api"
	"lexy/pkg/config"
	"lexy/pkg/lexy"
	"lexy/pkg/llm"
	"lexy/pkg/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	mu     sync.Mutex
	chunks []llm.StreamChunk
	err    error
	got    [][]llm.Message
	onCall func()
}

func (f *fakeModel) StreamChat(_ context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	f.got = append(f.got, messages)
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeModel) IsTransientError(error) bool { return false }
func (f *fakeModel) Provider() string            { return "fake" }
func (f *fakeModel) SetDebug(bool)               {}

func (f *fakeModel) lastPrompt() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

func replying(parts ...string) *fakeModel {
	f := &fakeModel{}
	for _, p := range parts {
		f.chunks = append(f.chunks, llm.NewTextChunk(p))
	}
	f.chunks = append(f.chunks, llm.NewFinalChunk(llm.StopReasonStop, nil))
	return f
}

type recorder struct {
	mu       sync.Mutex
	streamed strings.Builder
	replies  []string
	errs     []error
	signals  []string
}

func (r *recorder) SendReply(_ api.SessionContext, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
	return nil
}

func (r *recorder) StreamReply(_ api.SessionContext, blocks <-chan llm.ContentBlock) error {
	for b := range blocks {
		r.mu.Lock()
		r.streamed.WriteString(b.Text)
		r.mu.Unlock()
	}
	return nil
}

func (r *recorder) SendSignal(_ api.SessionContext, signal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal)
	return nil
}

func (r *recorder) SendError(_ api.SessionContext, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return nil
}

type fixture struct {
	model    *fakeModel
	rec      *recorder
	store    session.Store
	sessions *session.Manager
	system   *config.SystemConfig
	handler  *ChatHandler
}

func newFixture(t *testing.T, model *fakeModel) *fixture {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)

	sys := config.DefaultSystemConfig()
	sys.AttachmentsDir = t.TempDir()
	sys.ThinkingInitDelayMs = 60000

	g, err := lexy.CreateGraph(model, lexy.Options{Counter: func(s string) int { return len(s) }})
	require.NoError(t, err)

	f := &fixture{
		model:    model,
		rec:      &recorder{},
		store:    store,
		sessions: session.NewManager(store, 0),
		system:   sys,
	}
	f.handler = NewChatHandler(g, f.sessions, sys)
	f.handler.SetResponder(f.rec)
	return f
}

var webSession = api.SessionContext{ChannelID: "web", UserID: "u1", ChatID: "global", Username: "ada"}

func TestOnMessageStreamsAndRecords(t *testing.T) {
	f := newFixture(t, replying("Hello", ", world"))

	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "hi"})

	assert.Equal(t, "Hello, world", f.rec.streamed.String())
	assert.Empty(t, f.rec.errs)

	hist, err := f.sessions.GetHistory(context.Background(), "web:global")
	require.NoError(t, err)
	msgs := hist.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].GetTextContent())
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello, world", msgs[1].GetTextContent())

	// the second turn sees the first one
	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "again"})
	prompt := f.model.lastPrompt()
	require.Len(t, prompt, 4)
	assert.Equal(t, llm.RoleSystem, prompt[0].Role)
	assert.Equal(t, "hi", prompt[1].GetTextContent())
	assert.Equal(t, "again", prompt[3].GetTextContent())
}

func TestOnMessageStatelessHistory(t *testing.T) {
	f := newFixture(t, replying("ok"))

	f.handler.OnMessage(&api.UnifiedMessage{
		Session: webSession,
		Content: "and now?",
		History: []llm.Message{llm.NewUserMessage("before"), llm.NewAssistantMessage("noted")},
	})

	prompt := f.model.lastPrompt()
	require.Len(t, prompt, 4)
	assert.Equal(t, "before", prompt[1].GetTextContent())

	hist, err := f.sessions.GetHistory(context.Background(), "web:global")
	require.NoError(t, err)
	assert.Zero(t, hist.Len())
}

func TestOnMessageReportsErrors(t *testing.T) {
	boom := errors.New("upstream down")
	f := newFixture(t, &fakeModel{err: boom})

	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "hi"})

	require.Len(t, f.rec.errs, 1)
	assert.ErrorIs(t, f.rec.errs[0], boom)

	hist, err := f.sessions.GetHistory(context.Background(), "web:global")
	require.NoError(t, err)
	assert.Zero(t, hist.Len())
}

func TestOnMessageRejectsToolCalls(t *testing.T) {
	model := &fakeModel{chunks: []llm.StreamChunk{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "get_weather"}}},
		llm.NewFinalChunk(llm.StopReasonStop, nil),
	}}
	f := newFixture(t, model)

	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "weather?"})

	require.Len(t, f.rec.errs, 1)
	assert.ErrorIs(t, f.rec.errs[0], lexy.ErrInvalidResult)
}

func TestOnMessageSavesFiles(t *testing.T) {
	f := newFixture(t, replying(`Here you go {"message":"done","files":[{"name":"notes","extension":"md","content":"# hi"}]}`))

	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "make notes"})

	require.Len(t, f.rec.replies, 1)
	assert.Contains(t, f.rec.replies[0], "Saved files: ")

	data, err := os.ReadFile(filepath.Join(f.system.AttachmentsDir, "web_global", "notes.md"))
	require.NoError(t, err)
	assert.Equal(t, "# hi", string(data))
}

func TestOnMessageForwardsImages(t *testing.T) {
	f := newFixture(t, replying("a red square"))

	f.handler.OnMessage(&api.UnifiedMessage{
		Session: webSession,
		Content: "what is this?",
		Files:   []api.FileAttachment{{Filename: "square.png", Data: []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}}},
	})

	prompt := f.model.lastPrompt()
	input := prompt[len(prompt)-1]
	assert.True(t, input.HasImages())
	assert.Equal(t, "what is this?", input.GetTextContent())
}

func TestCommands(t *testing.T) {
	f := newFixture(t, replying("ok"))

	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "hi"})
	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "/reset"})

	assert.Contains(t, f.rec.replies, "History cleared.")
	hist, err := f.sessions.GetHistory(context.Background(), "web:global")
	require.NoError(t, err)
	assert.Zero(t, hist.Len())

	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "/help"})
	assert.Len(t, f.rec.replies, 2)

	// unknown commands go to the model
	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "/shrug"})
	assert.Equal(t, "/shrug", f.model.lastPrompt()[1].GetTextContent())
}

func TestResetDuringTurn(t *testing.T) {
	model := replying("ok")
	f := newFixture(t, model)
	ctx := context.Background()

	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "first"})

	model.mu.Lock()
	model.onCall = func() {
		f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "/reset"})
	}
	model.mu.Unlock()
	f.handler.OnMessage(&api.UnifiedMessage{Session: webSession, Content: "second"})

	hist, err := f.sessions.GetHistory(ctx, "web:global")
	require.NoError(t, err)
	msgs := hist.GetMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].GetTextContent())

	stored, err := f.store.Load(ctx, "web:global")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "second", stored[0].GetTextContent())
}
