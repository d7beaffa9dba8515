// Package httpapi exposes the chain over HTTP in the shape the generative
// UI frontend expects: a buffered invoke route and a server-sent events
// stream route.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"lexy/pkg/api"
	"lexy/pkg/lexy"
	"lexy/pkg/llm"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SessionHeader names the conversation to continue. Without it, and
// without chat_history, every request stands alone.
const SessionHeader = "X-Session-ID"

type HTTPConfig struct {
	Port         int    `json:"port"`
	Path         string `json:"path"`
	AllowOrigins string `json:"allow_origins"`
	BodyLimitMB  int    `json:"body_limit_mb"`
}

func (c *HTTPConfig) setDefaults() {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.Path == "" {
		c.Path = "/chat"
	}
	c.Path = "/" + strings.Trim(c.Path, "/")
	if c.AllowOrigins == "" {
		c.AllowOrigins = "*"
	}
	if c.BodyLimitMB <= 0 {
		c.BodyLimitMB = 20
	}
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type InvokeResponse struct {
	Output   Output   `json:"output"`
	Metadata Metadata `json:"metadata"`
}

type Output struct {
	Result string `json:"result"`
}

type Metadata struct {
	RunID   string   `json:"run_id"`
	Notices []string `json:"notices,omitempty"`
}

type chunkEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// HTTPChannel is the REST and SSE surface.
type HTTPChannel struct {
	config  HTTPConfig
	app     *fiber.App
	gw      api.ChannelContext
	pending map[string]*exchange
	mu      sync.RWMutex
}

func NewHTTPChannel(cfg HTTPConfig) *HTTPChannel {
	cfg.setDefaults()
	c := &HTTPChannel{
		config:  cfg,
		pending: make(map[string]*exchange),
	}

	c.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	c.app.Use(recover.New())
	c.app.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowOrigins}))
	c.register(c.app)
	return c
}

func (c *HTTPChannel) register(app *fiber.App) {
	app.Get("/health", func(fc *fiber.Ctx) error {
		return fc.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	chat := app.Group(c.config.Path)
	chat.Post("/invoke", c.invoke)
	chat.Post("/stream", c.stream)
}

// App returns the underlying fiber app.
func (c *HTTPChannel) App() *fiber.App {
	return c.app
}

func (c *HTTPChannel) ID() string {
	return "http"
}

func (c *HTTPChannel) Start(ctx api.ChannelContext) error {
	c.gw = ctx
	slog.Info("HTTP channel listening", "port", c.config.Port, "path", c.config.Path)
	go func() {
		if err := c.app.Listen(fmt.Sprintf(":%d", c.config.Port)); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

func (c *HTTPChannel) Stop() error {
	return c.app.Shutdown()
}

// bind sets the gateway without starting the listener.
func (c *HTTPChannel) bind(ctx api.ChannelContext) {
	c.gw = ctx
}

func (c *HTTPChannel) lookup(session api.SessionContext) (*exchange, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ex, ok := c.pending[session.UserID]
	if !ok {
		return nil, fmt.Errorf("no pending http request for run %s", session.UserID)
	}
	return ex, nil
}

func (c *HTTPChannel) track(runID string, ex *exchange) func() {
	c.mu.Lock()
	c.pending[runID] = ex
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.pending, runID)
		c.mu.Unlock()
	}
}

func (c *HTTPChannel) Send(session api.SessionContext, message string) error {
	ex, err := c.lookup(session)
	if err != nil {
		return err
	}
	return ex.notice(message)
}

func (c *HTTPChannel) SendError(session api.SessionContext, runErr error) error {
	ex, err := c.lookup(session)
	if err != nil {
		return err
	}
	ex.fail(runErr)
	return nil
}

// Stream consumes every block even after the client went away.
func (c *HTTPChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	ex, err := c.lookup(session)
	if err != nil {
		return err
	}
	var firstErr error
	for b := range blocks {
		if err := ex.block(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// message converts a request into a UnifiedMessage. The run ID doubles
// as the user ID so replies find their exchange.
func (c *HTTPChannel) message(ctx context.Context, fc *fiber.Ctx, req *ChatRequest) (*api.UnifiedMessage, error) {
	history, err := req.Input.history()
	if err != nil {
		return nil, err
	}
	files, err := req.Input.attachments()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	chatID := fc.Get(SessionHeader)
	if chatID == "" && history == nil {
		history = []llm.Message{}
	}
	if chatID == "" {
		chatID = runID
	}

	return &api.UnifiedMessage{
		Session: api.SessionContext{
			ChannelID: c.ID(),
			UserID:    runID,
			ChatID:    chatID,
			Username:  fc.IP(),
		},
		Content: req.Input.Input,
		Files:   files,
		History: history,
		Context: ctx,
		RunID:   runID,
		Raw:     req,
	}, nil
}

func badRequest(fc *fiber.Ctx, err error) error {
	return fc.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Message: err.Error()})
}

func (c *HTTPChannel) invoke(fc *fiber.Ctx) error {
	if c.gw == nil {
		return fc.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Message: "channel not started"})
	}
	req, err := parseRequest(fc.Body())
	if err != nil {
		return badRequest(fc, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msg, err := c.message(ctx, fc, req)
	if err != nil {
		return badRequest(fc, err)
	}

	ex := newExchange(nil, cancel)
	done := c.track(msg.RunID, ex)
	defer done()

	c.gw.OnMessage(c.ID(), msg)

	text, notices, runErr := ex.result()
	if runErr != nil {
		return fc.Status(statusFor(runErr)).JSON(ErrorResponse{Message: runErr.Error()})
	}
	return fc.JSON(InvokeResponse{
		Output:   Output{Result: text},
		Metadata: Metadata{RunID: msg.RunID, Notices: notices},
	})
}

func (c *HTTPChannel) stream(fc *fiber.Ctx) error {
	if c.gw == nil {
		return fc.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Message: "channel not started"})
	}
	req, err := parseRequest(fc.Body())
	if err != nil {
		return badRequest(fc, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	msg, err := c.message(ctx, fc, req)
	if err != nil {
		cancel()
		return badRequest(fc, err)
	}

	fc.Set(fiber.HeaderContentType, "text/event-stream")
	fc.Set(fiber.HeaderCacheControl, "no-cache")
	fc.Set(fiber.HeaderConnection, "keep-alive")

	gw := c.gw
	fc.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		ex := newExchange(func(event string, data any) error {
			if err := writeEvent(w, event, data); err != nil {
				return err
			}
			return w.Flush()
		}, cancel)
		done := c.track(msg.RunID, ex)
		defer done()

		if err := ex.send("metadata", Metadata{RunID: msg.RunID}); err != nil {
			slog.Debug("Client left before the run started", "run_id", msg.RunID)
			return
		}

		gw.OnMessage(c.ID(), msg)

		text, _, runErr := ex.result()
		if runErr != nil {
			_ = ex.send("error", ErrorResponse{Message: runErr.Error()})
		} else {
			_ = ex.send("data", map[string]lexy.State{lexy.NodeInvokeModel: {Result: &text}})
		}
		_ = ex.send("end", nil)
	}))
	return nil
}

func writeEvent(w *bufio.Writer, event string, data any) error {
	payload := []byte("null")
	if data != nil {
		var err error
		if payload, err = json.Marshal(data); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, lexy.ErrMissingInput):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}
