package monitor

import "time"

// Message types shown by monitors.
const (
	TypeUser      = "USER"
	TypeAssistant = "ASSISTANT"
	TypeError     = "ERROR"
)

// MonitorMessage is one observed exchange.
type MonitorMessage struct {
	Timestamp   time.Time
	MessageType string // TypeUser, TypeAssistant or TypeError
	ChannelID   string
	Username    string
	Content     string
}

// Monitor observes traffic flowing through the gateway.
type Monitor interface {
	Start() error
	Stop() error
	OnMessage(msg MonitorMessage)
}
