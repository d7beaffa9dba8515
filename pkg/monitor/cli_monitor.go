package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// CLIMonitor echoes every message to a terminal.
type CLIMonitor struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewCLIMonitor writes to stdout.
func NewCLIMonitor() *CLIMonitor {
	return NewCLIMonitorTo(os.Stdout)
}

// NewCLIMonitorTo writes to w.
func NewCLIMonitorTo(w io.Writer) *CLIMonitor {
	return &CLIMonitor{writer: w}
}

func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "CLI monitor active, channel traffic will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

func (m *CLIMonitor) Stop() error {
	return nil
}

func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	var line string
	switch msg.MessageType {
	case TypeAssistant:
		line = fmt.Sprintf("[AI -> %s] %s", msg.ChannelID, msg.Content)
	case TypeError:
		line = fmt.Sprintf("[ERR -> %s] %s", msg.ChannelID, msg.Content)
	default:
		line = fmt.Sprintf("[%s/%s] %s", msg.ChannelID, msg.Username, msg.Content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// gray timestamp
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", msg.Timestamp.Format("2006-01-02 15:04:05"), line)
}
