package monitor

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"lexy/pkg/graph"
	"lexy/pkg/llm"

	"github.com/stretchr/testify/assert"
)

func TestCustomHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.LevelInfo))

	t.Run("formats level, message and attrs", func(t *testing.T) {
		buf.Reset()
		logger.Info("Graph run finished", "node", "invoke_model", "steps", 1)

		out := buf.String()
		assert.Contains(t, out, "[INFO] Graph run finished")
		assert.Contains(t, out, `node="invoke_model"`)
		assert.Contains(t, out, "steps=1")
	})

	t.Run("filters below level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("hidden")
		assert.Empty(t, buf.String())
	})

	t.Run("prints debug id from context", func(t *testing.T) {
		buf.Reset()
		ctx := context.WithValue(context.Background(), llm.DebugDirContextKey, "ab12")
		logger.InfoContext(ctx, "hello")
		assert.Contains(t, buf.String(), "[INFO] [ab12] hello")
	})

	t.Run("falls back to the run id", func(t *testing.T) {
		buf.Reset()
		ctx := graph.WithRunID(context.Background(), "0123456789abcdef")
		logger.InfoContext(ctx, "hello")
		assert.Contains(t, buf.String(), "[01234567] hello")
	})

	t.Run("groups and scoped attrs", func(t *testing.T) {
		buf.Reset()
		logger.With("channel", "http").WithGroup("req").Info("done", "status", 200)
		out := buf.String()
		assert.Contains(t, out, `channel="http"`)
		assert.Contains(t, out, "req.status=200")
	})
}

func TestLevelVar(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	logger := slog.New(NewCustomHandler(&buf, lv))

	logger.Debug("first")
	assert.Empty(t, buf.String())

	lv.Set(ParseLevel("debug"))
	logger.Debug("second")
	assert.Contains(t, buf.String(), "second")

	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestCLIMonitor(t *testing.T) {
	var buf bytes.Buffer
	m := NewCLIMonitorTo(&buf)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	m.OnMessage(MonitorMessage{Timestamp: ts, MessageType: TypeUser, ChannelID: "http", Username: "alice", Content: "hi"})
	m.OnMessage(MonitorMessage{Timestamp: ts, MessageType: TypeAssistant, ChannelID: "http", Content: "hello"})

	out := buf.String()
	assert.Contains(t, out, "[2024-01-02 03:04:05]")
	assert.Contains(t, out, "[http/alice] hi")
	assert.Contains(t, out, "[AI -> http] hello")
}
