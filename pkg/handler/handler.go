// Package handler turns inbound channel messages into graph runs and
// sends the streamed answer back through the gateway.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"lexy/pkg/api"
	"lexy/pkg/config"
	"lexy/pkg/graph"
	"lexy/pkg/lexy"
	"lexy/pkg/llm"
	"lexy/pkg/session"

	"github.com/google/uuid"
)

var unsafeDirChars = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// ChatHandler runs the compiled chain for every message and keeps the
// per-session history.
type ChatHandler struct {
	graph     *graph.CompiledGraph[lexy.State]
	sessions  *session.Manager
	system    *config.SystemConfig
	responder api.MessageResponder
}

// NewChatHandler returns a handler for g. sessions may be nil, in which
// case only client-supplied history is used.
func NewChatHandler(g *graph.CompiledGraph[lexy.State], sessions *session.Manager, sys *config.SystemConfig) *ChatHandler {
	if sys == nil {
		sys = config.DefaultSystemConfig()
	}
	return &ChatHandler{graph: g, sessions: sessions, system: sys}
}

// SetResponder implements api.ResponderAware.
func (h *ChatHandler) SetResponder(r api.MessageResponder) {
	h.responder = r
}

// OnMessage answers msg and returns when the reply has been fully streamed.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	if msg.RunID == "" {
		msg.RunID = uuid.NewString()
	}
	if msg.DebugID == "" {
		msg.DebugID = msg.RunID
		if len(msg.DebugID) > 8 {
			msg.DebugID = msg.DebugID[:8]
		}
	}
	start := time.Now()

	if strings.HasPrefix(msg.Content, "/") && h.handleCommand(msg) {
		return
	}

	parent := msg.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, time.Duration(h.system.LLMTimeoutMs)*time.Millisecond)
	defer cancel()
	ctx = context.WithValue(ctx, llm.DebugDirContextKey, msg.DebugID)
	ctx = graph.WithRunID(ctx, msg.RunID)

	history, err := h.history(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load history", "session", msg.Session.Key(), "error", err)
		h.reportError(msg, err)
		return
	}
	input := lexy.NewInput(msg.Content, uploads(msg.Files)...)

	result, err := h.run(ctx, msg, lexy.State{Input: &input, ChatHistory: history})
	if err != nil {
		slog.ErrorContext(ctx, "Graph run failed", "error", err, "duration", time.Since(start).String())
		h.reportError(msg, err)
		return
	}

	h.saveFiles(ctx, msg, result)
	h.record(msg, input, result)
	slog.InfoContext(ctx, "Message answered", "duration", time.Since(start).String(), "length", len(result))
}

// run streams the graph, forwarding model blocks to the channel as they arrive.
func (h *ChatHandler) run(ctx context.Context, msg *api.UnifiedMessage, state lexy.State) (string, error) {
	delay := time.Duration(h.system.ThinkingInitDelayMs) * time.Millisecond
	thinking := time.AfterFunc(delay, func() {
		if err := h.responder.SendSignal(msg.Session, llm.BlockTypeThinking); err != nil {
			slog.Debug("Failed to send thinking signal", "error", err)
		}
	})
	defer thinking.Stop()

	buffer := h.system.InternalChannelBuffer
	if buffer <= 0 {
		buffer = 100
	}
	blockCh := make(chan llm.ContentBlock, buffer)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := h.responder.StreamReply(msg.Session, blockCh); err != nil {
			slog.Error("Failed to stream reply", "error", err)
		}
	}()

	runCtx := lexy.WithTokenSink(ctx, func(block llm.ContentBlock) {
		thinking.Stop()
		select {
		case blockCh <- block:
		case <-ctx.Done():
		}
	})

	var final graph.Event[lexy.State]
	for ev := range h.graph.Stream(runCtx, state) {
		if ev.Done {
			final = ev
			continue
		}
		slog.DebugContext(runCtx, "Node finished", "node", ev.Node)
	}

	close(blockCh)
	<-streamDone

	if final.Err != nil {
		return "", final.Err
	}
	if !final.Done {
		// the stream was abandoned before its terminal event
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", errors.New("graph run ended without a result")
	}
	return final.State.ResultText(), nil
}

func (h *ChatHandler) history(ctx context.Context, msg *api.UnifiedMessage) ([]llm.Message, error) {
	if msg.Stateless() {
		return msg.History, nil
	}
	if h.sessions == nil {
		return nil, nil
	}
	hist, err := h.sessions.GetHistory(ctx, msg.Session.Key())
	if err != nil {
		return nil, err
	}
	return hist.GetMessages(), nil
}

// record appends the turn to the session history. Client-managed
// conversations are never persisted.
func (h *ChatHandler) record(msg *api.UnifiedMessage, input llm.Message, result string) {
	if msg.Stateless() || h.sessions == nil {
		return
	}
	ctx := context.Background()
	key := msg.Session.Key()

	if err := h.sessions.Append(ctx, key, input, llm.NewAssistantMessage(result)); err != nil {
		slog.Error("Failed to save history", "session", key, "error", err)
	}
}

// saveFiles writes the files the model asked to create and tells the user where they are.
func (h *ChatHandler) saveFiles(ctx context.Context, msg *api.UnifiedMessage, result string) {
	resp := lexy.ParseFileResponse(result)
	if !resp.HasFiles() {
		return
	}

	dir := filepath.Join(h.system.AttachmentsDir, unsafeDirChars.ReplaceAllString(msg.Session.Key(), "_"))
	paths, err := lexy.SaveFiles(dir, resp.Files)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to save files", "dir", dir, "error", err)
		h.reportError(msg, fmt.Errorf("save files: %w", err))
		return
	}

	slog.InfoContext(ctx, "Files saved", "dir", dir, "count", len(paths))
	if err := h.responder.SendReply(msg.Session, "Saved files: "+strings.Join(paths, ", ")); err != nil {
		slog.Error("Failed to send file notice", "error", err)
	}
}

// handleCommand runs a slash command and reports whether msg was consumed.
// Unknown commands reach the model as plain text.
func (h *ChatHandler) handleCommand(msg *api.UnifiedMessage) bool {
	cmd, _, _ := strings.Cut(strings.TrimPrefix(msg.Content, "/"), " ")

	switch cmd {
	case "reset":
		if h.sessions != nil {
			if err := h.sessions.Reset(context.Background(), msg.Session.Key()); err != nil {
				h.reportError(msg, err)
				return true
			}
		}
		h.reply(msg, "History cleared.")
		return true
	case "help":
		h.reply(msg, "Send a message to chat. /reset clears the conversation.")
		return true
	}
	return false
}

func (h *ChatHandler) reply(msg *api.UnifiedMessage, text string) {
	if err := h.responder.SendReply(msg.Session, text); err != nil {
		slog.Error("Failed to send reply", "error", err)
	}
}

func (h *ChatHandler) reportError(msg *api.UnifiedMessage, err error) {
	if sendErr := h.responder.SendError(msg.Session, err); sendErr != nil {
		slog.Error("Failed to report error", "error", sendErr)
	}
}

func uploads(files []api.FileAttachment) []lexy.Upload {
	out := make([]lexy.Upload, 0, len(files))
	for _, f := range files {
		ext := f.Extension
		if ext == "" {
			ext = strings.TrimPrefix(filepath.Ext(f.Filename), ".")
		}
		out = append(out, lexy.Upload{
			Name:      strings.TrimSuffix(f.Filename, filepath.Ext(f.Filename)),
			Extension: ext,
			MimeType:  f.MimeType,
			Data:      f.Data,
		})
	}
	return out
}
