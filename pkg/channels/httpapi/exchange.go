package httpapi

import (
	"context"
	"strings"
	"sync"

	"lexy/pkg/llm"
)

// emitFunc writes one server-sent event. Nil for buffered requests.
type emitFunc func(event string, data any) error

// exchange collects what the handler sends back for one request.
type exchange struct {
	mu      sync.Mutex
	text    strings.Builder
	notices []string
	err     error
	emit    emitFunc
	cancel  context.CancelFunc
	broken  bool
}

func newExchange(emit emitFunc, cancel context.CancelFunc) *exchange {
	return &exchange{emit: emit, cancel: cancel}
}

// send emits an event. After a failed write the client is gone, so the run is cancelled.
func (e *exchange) send(event string, data any) error {
	if e.emit == nil || e.broken {
		return nil
	}
	if err := e.emit(event, data); err != nil {
		e.broken = true
		if e.cancel != nil {
			e.cancel()
		}
		return err
	}
	return nil
}

func (e *exchange) block(b llm.ContentBlock) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b.Type == llm.BlockTypeText {
		e.text.WriteString(b.Text)
	}
	return e.send("chunk", chunkEvent{Type: b.Type, Content: b.Text})
}

func (e *exchange) notice(msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notices = append(e.notices, msg)
	return e.send("notice", map[string]string{"message": msg})
}

func (e *exchange) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *exchange) result() (string, []string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text.String(), append([]string(nil), e.notices...), e.err
}
