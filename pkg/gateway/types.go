package gateway

import (
	"lexy/pkg/api"
)

// Aliases so handlers can depend on the gateway package alone.
type (
	Channel               = api.Channel
	SignalingChannel      = api.SignalingChannel
	ErrorReportingChannel = api.ErrorReportingChannel
	MessageResponder      = api.MessageResponder
	ChannelContext        = api.ChannelContext
	UnifiedMessage        = api.UnifiedMessage
	FileAttachment        = api.FileAttachment
	SessionContext        = api.SessionContext
	MessageHandler        = api.MessageHandler
)
