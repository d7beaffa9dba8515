package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"lexy/pkg/graph"
	"lexy/pkg/llm"
)

// CustomHandler writes records as "[time] [LEVEL] [debug_id] msg k=v".
type CustomHandler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

func NewCustomHandler(w io.Writer, level slog.Leveler) *CustomHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &CustomHandler{w: w, mu: &sync.Mutex{}, level: level}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	fmt.Fprintf(buf, "[%s] [%s]", r.Time.Format("2006-01-02 15:04:05"), r.Level)

	if ctx != nil {
		if id, ok := ctx.Value(llm.DebugDirContextKey).(string); ok && id != "" {
			fmt.Fprintf(buf, " [%s]", id)
		} else if id := graph.RunIDFromContext(ctx); id != "" {
			fmt.Fprintf(buf, " [%s]", shortID(id))
		}
	}

	fmt.Fprintf(buf, " %s", r.Message)

	for _, a := range h.attrs {
		appendAttr(buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func appendAttr(buf *bytes.Buffer, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	val := a.Value.Resolve()
	if val.Kind() == slog.KindGroup {
		for _, ga := range val.Group() {
			appendAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}

	buf.WriteByte(' ')
	buf.WriteString(prefix + a.Key)
	buf.WriteByte('=')
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scoped := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	scoped = append(scoped, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		scoped = append(scoped, a)
	}
	return &CustomHandler{w: h.w, mu: h.mu, level: h.level, attrs: scoped, prefix: h.prefix}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &CustomHandler{w: h.w, mu: h.mu, level: h.level, attrs: h.attrs, prefix: h.prefix + name + "."}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var logLevel = new(slog.LevelVar)

// SetupSlog installs the CustomHandler on stderr as the default logger.
func SetupSlog(levelStr string) {
	logLevel.Set(ParseLevel(levelStr))
	slog.SetDefault(slog.New(NewCustomHandler(os.Stderr, logLevel)))
}

// SetLevel changes the level of the logger installed by SetupSlog.
func SetLevel(levelStr string) {
	logLevel.Set(ParseLevel(levelStr))
}

// PrintBanner prints the startup banner.
func PrintBanner() {
	fmt.Print(`
  _
 | |    _____  ___   _
 | |   / _ \ \/ / | | |
 | |__|  __/>  <| |_| |
 |_____\___/_/\_\\__, |
                 |___/   generative UI backend
`)
}
