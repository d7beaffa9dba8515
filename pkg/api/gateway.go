package api

import (
	"context"

	"lexy/pkg/llm"
)

// Channel is the lifecycle contract of a communication platform.
type Channel interface {
	ID() string
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, message string) error
	Stream(session SessionContext, blocks <-chan llm.ContentBlock) error
}

// SignalingChannel is implemented by platforms that can show control
// signals such as a typing indicator.
type SignalingChannel interface {
	Channel
	SendSignal(session SessionContext, signal string) error
}

// ErrorReportingChannel is implemented by platforms that report failures
// out of band rather than as ordinary text.
type ErrorReportingChannel interface {
	Channel
	SendError(session SessionContext, err error) error
}

// ChannelContext is what a channel sees of the gateway.
type ChannelContext interface {
	MessageResponder
	// OnMessage hands a message to the handler and returns once it has been answered.
	OnMessage(channelID string, msg *UnifiedMessage)
}

// MessageResponder sends answers back to the originating channel.
type MessageResponder interface {
	SendReply(session SessionContext, content string) error
	StreamReply(session SessionContext, blocks <-chan llm.ContentBlock) error
	SendSignal(session SessionContext, signal string) error
	SendError(session SessionContext, err error) error
}

// UnifiedMessage is the platform-independent form of an inbound message.
type UnifiedMessage struct {
	Session SessionContext   // where the message came from
	Content string           // text of the message
	Files   []FileAttachment // uploads such as images or documents

	// History, when non-nil, is the conversation supplied by the client.
	// It replaces the stored session history and is not persisted.
	History []llm.Message

	// Context bounds the run; nil means context.Background().
	Context context.Context

	RunID   string // identifier of the graph run answering this message
	DebugID string // groups debug dumps of one request
	Raw     any    // original platform payload
}

// Stateless reports whether the client manages the conversation itself.
func (m *UnifiedMessage) Stateless() bool {
	return m.History != nil
}

// SessionContext identifies one conversation on one channel.
type SessionContext struct {
	ChannelID string // e.g. "telegram"
	UserID    string // platform user identifier
	ChatID    string // chat or group identifier, may equal UserID
	Username  string
}

// Key is the history key of the conversation.
func (s SessionContext) Key() string {
	return s.ChannelID + ":" + s.ChatID
}

// FileAttachment is one uploaded file.
type FileAttachment struct {
	Filename  string
	Extension string // without the leading dot, may be empty
	MimeType  string // may be empty; resolved from Extension or content
	Data      []byte
}

// MessageHandler adapts a function to MessageProcessor.
type MessageHandler func(*UnifiedMessage)

func (h MessageHandler) OnMessage(msg *UnifiedMessage) {
	h(msg)
}

// MessageProcessor consumes inbound messages.
type MessageProcessor interface {
	OnMessage(msg *UnifiedMessage)
}

// ResponderAware components get the responder injected by the gateway builder.
type ResponderAware interface {
	SetResponder(responder MessageResponder)
}

// GatewayHandler processes messages and answers through a responder.
type GatewayHandler interface {
	MessageProcessor
	ResponderAware
}
