package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StreamDebugger appends raw provider chunks to debug/chunks/<id>/<provider>/<time>.log.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger opens the dump file immediately when enabled. The request
// debug identifier, if present in ctx, nests the file under its own directory.
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{}
	}

	debugDir := filepath.Join("debug", "chunks", provider)
	if dirStr, ok := ctx.Value(DebugDirContextKey).(string); ok && dirStr != "" {
		debugDir = filepath.Join("debug", "chunks", dirStr, provider)
	}

	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		slog.Error("Failed to create debug directory", "dir", debugDir, "error", err)
		return &StreamDebugger{}
	}

	filename := filepath.Join(debugDir, fmt.Sprintf("%s.log", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("Failed to open debug file", "file", filename, "error", err)
		return &StreamDebugger{}
	}

	slog.Debug("Debug mode ON", "provider", provider, "file", filename)
	return &StreamDebugger{file: f, enabled: true}
}

// WriteString appends s and a newline.
func (d *StreamDebugger) WriteString(s string) {
	if !d.enabled || d.file == nil {
		return
	}
	if _, err := d.file.WriteString(s + "\n"); err != nil {
		slog.Warn("Failed to write to debug file", "error", err)
	}
}

// WriteJSON appends v encoded as one JSON line.
func (d *StreamDebugger) WriteJSON(v any) {
	if !d.enabled || d.file == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode debug chunk", "error", err)
		return
	}
	d.WriteString(string(data))
}

// Close closes the dump file.
func (d *StreamDebugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
