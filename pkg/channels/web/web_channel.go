// Package web serves a websocket chat for browser clients.
package web

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"lexy/pkg/api"
	"lexy/pkg/llm"
	"lexy/pkg/session"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI is served from elsewhere
	},
}

// ChatID is the single conversation shared by every browser tab.
const ChatID = "global"

type WebConfig struct {
	Port int `json:"port"`
}

// IncomingMessage is what the browser sends. Plain text frames are accepted too.
type IncomingMessage struct {
	Text  string         `json:"text"`
	Files []IncomingFile `json:"files"`
	// Images is the older name of Files.
	Images []IncomingFile `json:"images"`
}

type IncomingFile struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Data string `json:"data"` // base64
}

// OutgoingBlock is one streamed frame.
type OutgoingBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
	Mime string `json:"mime,omitempty"`
	URL  string `json:"url,omitempty"`
}

type historyEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

type WebChannel struct {
	config      WebConfig
	server      *http.Server
	sessions    *session.Manager
	connections map[string]*safeConn
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig, sessions *session.Manager) *WebChannel {
	return &WebChannel{
		config:      cfg,
		sessions:    sessions,
		connections: make(map[string]*safeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

// Handler returns the websocket endpoint bound to ctx.
func (c *WebChannel) Handler(ctx api.ChannelContext) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
	return mux
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", c.config.Port),
		Handler: c.Handler(ctx),
	}

	slog.Info("Web channel listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web server error", "error", err)
		}
	}()
	return nil
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) conn(session api.SessionContext) (*safeConn, error) {
	c.mu.RLock()
	conn, ok := c.connections[session.UserID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("web user %s not connected", session.UserID)
	}
	return conn, nil
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.writeJSON(OutgoingBlock{Type: "message", Text: message})
}

func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.writeJSON(map[string]string{"type": "signal", "value": signal})
}

func (c *WebChannel) SendError(session api.SessionContext, runErr error) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.writeJSON(OutgoingBlock{Type: llm.BlockTypeError, Text: runErr.Error()})
}

func (c *WebChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}

	for block := range blocks {
		if err := conn.writeJSON(toOutgoing(block)); err != nil {
			return err
		}
	}
	return conn.writeJSON(OutgoingBlock{Type: "done"})
}

func toOutgoing(block llm.ContentBlock) OutgoingBlock {
	out := OutgoingBlock{Type: block.Type}
	if block.Type != llm.BlockTypeImage || block.Source == nil {
		out.Text = block.Text
		return out
	}
	out.Mime = block.Source.MediaType
	if block.Source.Type == "base64" {
		out.Data = base64.StdEncoding.EncodeToString(block.Source.Data)
	} else {
		out.URL = block.Source.URL
	}
	return out
}

func (c *WebChannel) sendHistory(conn *safeConn, key string) {
	if c.sessions == nil {
		return
	}
	h, err := c.sessions.GetHistory(context.Background(), key)
	if err != nil {
		slog.Warn("Failed to load web history", "key", key, "error", err)
		return
	}

	msgs := h.GetMessages()
	if len(msgs) == 0 {
		return
	}
	entries := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, historyEntry{Role: m.Role, Text: m.GetTextContent()})
	}
	if err := conn.writeJSON(map[string]any{"type": "history", "data": entries}); err != nil {
		slog.Debug("Failed to send history", "error", err)
	}
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "error", err)
		return
	}
	conn := &safeConn{Conn: rawConn}
	userID := r.RemoteAddr

	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
	}()

	sess := api.SessionContext{
		ChannelID: c.ID(),
		UserID:    userID,
		ChatID:    ChatID,
		Username:  "WebUser",
	}
	c.sendHistory(conn, sess.Key())

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		content, files := decodeFrame(frame)
		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: sess,
			Content: content,
			Files:   files,
			Context: r.Context(),
			Raw:     frame,
		})
	}
}

func decodeFrame(frame []byte) (string, []api.FileAttachment) {
	var incoming IncomingMessage
	if err := json.Unmarshal(frame, &incoming); err != nil {
		return string(frame), nil
	}

	var files []api.FileAttachment
	for _, f := range append(incoming.Files, incoming.Images...) {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			slog.Warn("Dropping undecodable upload", "name", f.Name, "error", err)
			continue
		}
		files = append(files, api.FileAttachment{
			Filename: f.Name,
			MimeType: f.Mime,
			Data:     data,
		})
	}
	return incoming.Text, files
}
