package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"lexy/pkg/config"
	"lexy/pkg/llm"
	"lexy/pkg/monitor"
)

// ErrChannelNotFound is returned when a reply targets an unregistered channel.
var ErrChannelNotFound = errors.New("channel not found")

// GatewayManager owns the channels and routes messages between them and the handler.
type GatewayManager struct {
	channels      map[string]Channel
	msgHandler    MessageHandler
	monitor       monitor.Monitor
	channelBuffer int
	mu            sync.RWMutex
}

func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels:      make(map[string]Channel),
		channelBuffer: 100,
	}
}

// WithSystemConfig applies engine parameters.
func (g *GatewayManager) WithSystemConfig(cfg *config.SystemConfig) {
	g.SetChannelBuffer(cfg.InternalChannelBuffer)
}

func (g *GatewayManager) SetChannelBuffer(size int) {
	if size > 0 {
		g.channelBuffer = size
	}
}

func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.msgHandler = handler
}

func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// ChannelIDs lists registered channels in name order.
func (g *GatewayManager) ChannelIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.channels))
	for id := range g.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartAll starts every channel with the gateway as its context.
func (g *GatewayManager) StartAll() error {
	for _, id := range g.ChannelIDs() {
		c, _ := g.GetChannel(id)
		slog.Info("Starting channel", "channel", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

func (g *GatewayManager) StopAll() {
	for _, id := range g.ChannelIDs() {
		c, _ := g.GetChannel(id)
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
}

func (g *GatewayManager) observe(kind string, session SessionContext, content string) {
	if g.monitor == nil || content == "" {
		return
	}
	g.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: kind,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Content:     content,
	})
}

func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	slog.Debug("Reply", "channel", session.ChannelID, "user", session.Username, "length", len(content))
	g.observe(monitor.TypeAssistant, session, content)

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal forwards a control signal. Channels without signal support ignore it.
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, session.ChannelID)
	}
	if sc, ok := c.(SignalingChannel); ok {
		slog.Debug("Signal", "channel", session.ChannelID, "user", session.Username, "signal", signal)
		return sc.SendSignal(session, signal)
	}
	return nil
}

// SendError reports a failed run. Channels without dedicated error support
// receive the error as a plain reply.
func (g *GatewayManager) SendError(session SessionContext, err error) error {
	g.observe(monitor.TypeError, session, err.Error())

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, session.ChannelID)
	}
	if ec, ok := c.(ErrorReportingChannel); ok {
		return ec.SendError(session, err)
	}
	return c.Send(session, fmt.Sprintf("Error: %v", err))
}

// StreamReply forwards blocks to the channel, mirroring the text to the monitor.
func (g *GatewayManager) StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		// drain so the producer is never blocked
		for range blocks {
		}
		return fmt.Errorf("%w: %s", ErrChannelNotFound, session.ChannelID)
	}

	wrapped := make(chan llm.ContentBlock, g.channelBuffer)
	go func() {
		defer close(wrapped)
		var full strings.Builder
		for block := range blocks {
			if block.Type == llm.BlockTypeText {
				full.WriteString(block.Text)
			}
			wrapped <- block
		}
		g.observe(monitor.TypeAssistant, session, full.String())
	}()

	err := c.Stream(session, wrapped)
	// a channel that gives up early must not block the forwarder
	for range wrapped {
	}
	return err
}

// OnMessage implements ChannelContext. It runs the handler synchronously.
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	slog.Info("Message received", "channel", channelID, "user", msg.Session.Username, "user_id", msg.Session.UserID, "length", len(msg.Content), "files", len(msg.Files))
	g.observe(monitor.TypeUser, msg.Session, msg.Content)

	if g.msgHandler == nil {
		slog.Warn("No message handler set")
		return
	}
	g.msgHandler(msg)
}
